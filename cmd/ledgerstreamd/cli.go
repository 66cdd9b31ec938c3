// Copyright (C) ledgerstream authors.
// All rights reserved. This file is part of ledgerstream.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package main

import "flag"

var (
	flagInit, flagServer, flagGops, flagVersion, flagLogDateTime bool
	flagConfigFile, flagNewUser, flagDelUser, flagLogLevel       string
)

func cliInit() {
	flag.BoolVar(&flagInit, "init", false, "Setup var directory, initialize auth database, config.json and .env")
	flag.BoolVar(&flagServer, "server", false, "Start the broker, continue listening after initialization and argument handling")
	flag.BoolVar(&flagGops, "gops", false, "Listen via github.com/google/gops/agent (for debugging)")
	flag.BoolVar(&flagVersion, "version", false, "Show version information and exit")
	flag.BoolVar(&flagLogDateTime, "logdate", false, "Set this flag to add date and time to log messages")
	flag.StringVar(&flagConfigFile, "config", "./config.json", "Specify alternative path to `config.json`")
	flag.StringVar(&flagNewUser, "add-user", "", "Add a new user. Argument format: `<username>:<permissions>:<password>` with permissions a comma-separated scope list")
	flag.StringVar(&flagDelUser, "del-user", "", "Remove an existing user. Argument format: <username>")
	flag.StringVar(&flagLogLevel, "loglevel", "warn", "Sets the logging level: `[debug, info (default), warn, err, crit]`")
	flag.Parse()
}
