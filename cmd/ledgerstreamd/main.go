// Copyright (C) ledgerstream authors.
// All rights reserved. This file is part of ledgerstream.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package main

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"sync"
	"syscall"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/google/gops/agent"

	"github.com/ledgerstream/ledgerstream/internal/authstore"
	"github.com/ledgerstream/ledgerstream/internal/broker"
	"github.com/ledgerstream/ledgerstream/internal/config"
	"github.com/ledgerstream/ledgerstream/internal/metricsserver"
	"github.com/ledgerstream/ledgerstream/internal/runtimeEnv"
	"github.com/ledgerstream/ledgerstream/internal/wire"
	"github.com/ledgerstream/ledgerstream/pkg/ccrypt"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cliInit()

	if flagVersion {
		fmt.Printf("Version:\t%s\n", version)
		fmt.Printf("Git hash:\t%s\n", commit)
		fmt.Printf("Build time:\t%s\n", date)
		os.Exit(0)
	}

	cclog.Init(flagLogLevel, flagLogDateTime)

	// See https://github.com/google/gops (Runtime overhead is almost zero)
	if flagGops {
		if err := agent.Listen(agent.Options{}); err != nil {
			cclog.Fatalf("gops/agent.Listen failed: %s", err.Error())
		}
	}

	if err := runtimeEnv.LoadEnv("./.env"); err != nil {
		cclog.Fatalf("parsing './.env' file failed: %s", err.Error())
	}

	if flagInit {
		initEnv()
		cclog.Abort("Successfully setup environment!\n" +
			"Please review config.json and .env and adjust the seed credentials.\n" +
			"Add your real keys before going live!")
	}

	config.Init(flagConfigFile)

	store, err := authstore.Connect(config.Keys.AuthDB)
	if err != nil {
		cclog.Abortf("Could not open auth database '%s'.\nError: %s\n", config.Keys.AuthDB, err.Error())
	}
	defer store.Close()

	if err := store.EnsureRootUser(config.Keys.RootUsername, config.Keys.RootPassword); err != nil {
		cclog.Abortf("Could not seed root user.\nError: %s\n", err.Error())
	}

	if flagNewUser != "" {
		parts := strings.SplitN(flagNewUser, ":", 3)
		if len(parts) != 3 || parts[0] == "" {
			cclog.Abortf("Add User: Could not parse supplied argument format: No changes.\n"+
				"Want: <username>:<permissions>:<password>\nGot: %s\n", flagNewUser)
		}
		perms := strings.Split(parts[1], ",")
		if parts[1] == "" {
			perms = nil
		}
		if _, err := store.CreateUser(parts[0], parts[2], perms); err != nil {
			cclog.Abortf("Add User: Could not create new user '%s'.\nError: %s\n", parts[0], err.Error())
		}
		cclog.Printf("Add User: Added new user '%s'\n", parts[0])
	}
	if flagDelUser != "" {
		user, err := store.GetUser(flagDelUser)
		if err != nil {
			cclog.Abortf("Delete User: Could not find user '%s'.\nError: %s\n", flagDelUser, err.Error())
		}
		if err := store.DeleteUser(user.ID); err != nil {
			cclog.Abortf("Delete User: Could not delete user '%s'.\nError: %s\n", flagDelUser, err.Error())
		}
		cclog.Printf("Delete User: Deleted user '%s'\n", flagDelUser)
	}

	if !flagServer {
		cclog.Abort("No errors, server flag not set. Exiting ledgerstreamd.")
	}

	encryptor, err := ccrypt.FromBase64Key(config.Keys.EncryptionKey)
	if err != nil {
		cclog.Abortf("Could not parse encryption key.\nError: %s\n", err.Error())
	}

	confirmation := wire.ConfirmationWait
	if config.Keys.Confirmation == "no_wait" {
		confirmation = wire.ConfirmationNoWait
	}
	sessionMaxAge, err := time.ParseDuration(config.Keys.SessionMaxAge)
	if err != nil {
		sessionMaxAge = 24 * time.Hour
	}

	sys := broker.New(broker.Options{
		DataPath:         config.Keys.DataPath,
		SegmentSizeLimit: config.Keys.SegmentSizeLimit,
		CacheBudgetBytes: config.Keys.CacheBudget,
		Confirmation:     confirmation,
		Fsync:            config.Keys.Fsync,
		MaxFileRetries:   config.Keys.MaxFileRetries,
		RetryDelay:       time.Duration(config.Keys.RetryDelayMs) * time.Millisecond,
		MaintenanceEvery: time.Duration(config.Keys.MaintenanceIntervalSec) * time.Second,
		SessionSecret:    []byte(config.Keys.SessionSecret),
		SessionMaxAge:    sessionMaxAge,
		Encryptor:        encryptor,
		Store:            store,
	})
	if err := sys.Init(); err != nil {
		cclog.Abortf("Could not initialize broker at '%s'.\nError: %s\n", config.Keys.DataPath, err.Error())
	}

	listener, err := net.Listen("tcp", config.Keys.Addr)
	if err != nil {
		cclog.Abortf("Could not listen on '%s'.\nError: %s\n", config.Keys.Addr, err.Error())
	}
	cclog.Printf("Broker listening at %s...", config.Keys.Addr)

	// The listener must be established first so a privileged port can be
	// bound before the user is changed.
	if err := runtimeEnv.DropPrivileges(config.Keys.Group, config.Keys.User); err != nil {
		cclog.Fatalf("error while changing user: %s", err.Error())
	}

	srv := newTCPServer(sys)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		srv.serve(listener)
	}()

	var metricsSrv *http.Server
	if config.Keys.MetricsAddr != "" {
		metricsSrv = metricsserver.New(config.Keys.MetricsAddr, sys.MetricsRegistry().Registry, func() error { return nil })
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				cclog.Errorf("metrics server: %s", err.Error())
			}
		}()
		cclog.Printf("Metrics server listening at %s...", config.Keys.MetricsAddr)
	}

	wg.Add(1)
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer wg.Done()
		<-sigs
		runtimeEnv.SystemdNotifiy(false, "shutting down")

		srv.shutdown()
		if metricsSrv != nil {
			metricsSrv.Close()
		}
		if err := sys.Shutdown(); err != nil {
			cclog.Errorf("broker shutdown: %s", err.Error())
		}
	}()

	if os.Getenv("GOGC") == "" {
		debug.SetGCPercent(25)
	}
	runtimeEnv.SystemdNotifiy(true, "running")
	wg.Wait()
	cclog.Info("Graceful shutdown completed!")
}
