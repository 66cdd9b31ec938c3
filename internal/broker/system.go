// Copyright (C) ledgerstream authors.
// All rights reserved. This file is part of ledgerstream.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package broker implements the System facade: the single owner of all
// streams, the auth gate in front of every operation, the encryptor,
// metrics, client bookkeeping and the cache-pressure orchestration.
package broker

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/go-co-op/gocron/v2"

	"github.com/ledgerstream/ledgerstream/internal/authstore"
	"github.com/ledgerstream/ledgerstream/internal/cache"
	"github.com/ledgerstream/ledgerstream/internal/partition"
	"github.com/ledgerstream/ledgerstream/internal/stream"
	"github.com/ledgerstream/ledgerstream/internal/topic"
	"github.com/ledgerstream/ledgerstream/internal/wire"
	"github.com/ledgerstream/ledgerstream/pkg/ccrypt"
)

// Options carries the resolved server configuration the System needs.
type Options struct {
	DataPath         string
	SegmentSizeLimit uint64
	CacheBudgetBytes uint64
	Confirmation     wire.Confirmation
	Fsync            bool
	MaxFileRetries   int
	RetryDelay       time.Duration
	MaintenanceEvery time.Duration
	SessionSecret    []byte
	SessionMaxAge    time.Duration

	Encryptor ccrypt.Encryptor
	Store     *authstore.Store
}

// System is the facade every handler goes through. It exclusively owns
// the streams; a single mostly-read-held lock guards the stream map while
// per-stream, per-topic and per-partition locks guard everything below.
type System struct {
	opts Options

	mu      sync.RWMutex
	streams map[uint32]*stream.Stream

	store     *authstore.Store
	clients   *ClientManager
	encryptor ccrypt.Encryptor
	tracker   *cache.MemoryTracker
	metrics   *Metrics
	tokens    *sessionTokens

	scheduler gocron.Scheduler
	state     *stateLog
	startedAt time.Time
}

// New wires the System together; Init loads persisted state.
func New(opts Options) *System {
	if opts.Encryptor == nil {
		opts.Encryptor = ccrypt.Noop{}
	}
	if opts.MaintenanceEvery <= 0 {
		opts.MaintenanceEvery = 5 * time.Second
	}
	sys := &System{
		opts:      opts,
		streams:   make(map[uint32]*stream.Stream),
		store:     opts.Store,
		clients:   NewClientManager(),
		encryptor: opts.Encryptor,
		tracker:   cache.NewMemoryTracker(opts.CacheBudgetBytes),
		metrics:   NewMetrics(),
		tokens:    newSessionTokens(opts.SessionSecret, opts.SessionMaxAge),
		startedAt: time.Now(),
	}
	return sys
}

func (sys *System) partitionConfig() partition.Config {
	return partition.Config{
		SegmentSizeLimit: sys.opts.SegmentSizeLimit,
		Confirmation:     sys.opts.Confirmation,
		Fsync:            sys.opts.Fsync,
		MaxFileRetries:   sys.opts.MaxFileRetries,
		RetryDelay:       sys.opts.RetryDelay,
	}
}

func (sys *System) streamsDir() string { return filepath.Join(sys.opts.DataPath, "streams") }
func (sys *System) runtimeDir() string { return filepath.Join(sys.opts.DataPath, "runtime") }

// Init prepares the on-disk layout, reloads persisted streams and starts
// the scheduled maintenance sweeps.
func (sys *System) Init() error {
	if err := os.MkdirAll(sys.streamsDir(), 0o755); err != nil {
		return wire.Wrap(wire.KindCannotCreateDirectory, err.Error())
	}
	if err := os.RemoveAll(sys.runtimeDir()); err != nil {
		return wire.Wrap(wire.KindCannotRemoveRuntimeDirectory, err.Error())
	}
	if err := os.MkdirAll(sys.runtimeDir(), 0o755); err != nil {
		return wire.Wrap(wire.KindCannotCreateDirectory, err.Error())
	}

	state, err := openStateLog(sys.opts.DataPath)
	if err != nil {
		return err
	}
	sys.state = state

	entries, err := os.ReadDir(sys.streamsDir())
	if err != nil {
		return wire.Wrap(wire.KindCannotReadFile, err.Error())
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		sid, err := strconv.ParseUint(e.Name(), 10, 32)
		if err != nil {
			continue
		}
		s, err := stream.Load(filepath.Join(sys.streamsDir(), e.Name()), uint32(sid), sys.partitionConfig(), sys.tracker)
		if err != nil {
			return err
		}
		sys.streams[uint32(sid)] = s
		cclog.Infof("[SYSTEM]> loaded stream %d (%s) with %d topics", s.ID, s.Name, len(s.Topics()))
	}

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return err
	}
	sys.scheduler = scheduler
	if _, err := scheduler.NewJob(
		gocron.DurationJob(sys.opts.MaintenanceEvery),
		gocron.NewTask(sys.runMaintenance),
	); err != nil {
		return err
	}
	scheduler.Start()

	cclog.Infof("[SYSTEM]> initialized at %s with %d streams", sys.opts.DataPath, len(sys.streams))
	return nil
}

// runMaintenance sweeps expired segments and enforces topic size limits
// across every topic.
func (sys *System) runMaintenance() {
	for _, s := range sys.Streams() {
		for _, t := range s.Topics() {
			t.SweepExpired()
			t.EnforceMaxSize()
		}
	}
	sys.metrics.CacheUsage.Set(float64(sys.tracker.UsageBytes()))
}

// Shutdown stops maintenance and closes every stream, draining pending
// NoWait writes.
func (sys *System) Shutdown() error {
	if sys.scheduler != nil {
		if err := sys.scheduler.Shutdown(); err != nil {
			cclog.Warnf("[SYSTEM]> scheduler shutdown: %v", err)
		}
	}
	var firstErr error
	for _, s := range sys.Streams() {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	sys.state.close()
	return firstErr
}

// Streams returns every stream in ID order.
func (sys *System) Streams() []*stream.Stream {
	sys.mu.RLock()
	defer sys.mu.RUnlock()
	out := make([]*stream.Stream, 0, len(sys.streams))
	for _, s := range sys.streams {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CreateStream adds a new stream with a unique numeric ID and name.
func (sys *System) CreateStream(session *Session, id uint32, name string) (*stream.Stream, error) {
	if err := sys.ensurePermission(session, authstore.PermManage); err != nil {
		return nil, err
	}
	sys.mu.Lock()
	defer sys.mu.Unlock()

	if _, ok := sys.streams[id]; ok {
		return nil, wire.Wrap(wire.KindStreamNameAlreadyExists, fmt.Sprintf("stream %d already exists", id))
	}
	for _, s := range sys.streams {
		if s.Name == name {
			return nil, fmt.Errorf("%w: %q", wire.ErrStreamNameAlreadyExists, name)
		}
	}
	s, err := stream.Create(filepath.Join(sys.streamsDir(), fmt.Sprintf("%d", id)), id, name, sys.partitionConfig(), sys.tracker)
	if err != nil {
		return nil, err
	}
	sys.streams[id] = s
	sys.state.append(stateStreamCreated, id, 0)
	cclog.Infof("[SYSTEM]> created stream %d (%s)", id, name)
	return s, nil
}

// Stream resolves an identifier (numeric ID or name) to a stream.
func (sys *System) Stream(session *Session, id wire.Identifier) (*stream.Stream, error) {
	if err := sys.ensureAuthenticated(session); err != nil {
		return nil, err
	}
	return sys.resolveStream(id)
}

func (sys *System) resolveStream(id wire.Identifier) (*stream.Stream, error) {
	sys.mu.RLock()
	defer sys.mu.RUnlock()

	if id.Kind == wire.IdentifierNumeric {
		if s, ok := sys.streams[id.Numeric]; ok {
			return s, nil
		}
		return nil, fmt.Errorf("%w: stream %d", wire.ErrStreamIDNotFound, id.Numeric)
	}
	for _, s := range sys.streams {
		if s.Name == id.Name {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: stream %q", wire.ErrStreamIDNotFound, id.Name)
}

// DeleteStream deletes the stream, cascading to all its topics.
func (sys *System) DeleteStream(session *Session, id wire.Identifier) error {
	if err := sys.ensurePermission(session, authstore.PermManage); err != nil {
		return err
	}
	s, err := sys.resolveStream(id)
	if err != nil {
		return err
	}
	sys.mu.Lock()
	defer sys.mu.Unlock()
	if err := s.Delete(); err != nil {
		return err
	}
	delete(sys.streams, s.ID)
	sys.state.append(stateStreamDeleted, s.ID, 0)
	cclog.Infof("[SYSTEM]> deleted stream %d", s.ID)
	return nil
}

// UpdateStream renames the stream.
func (sys *System) UpdateStream(session *Session, id wire.Identifier, name string) error {
	if err := sys.ensurePermission(session, authstore.PermManage); err != nil {
		return err
	}
	s, err := sys.resolveStream(id)
	if err != nil {
		return err
	}
	sys.mu.RLock()
	for _, other := range sys.streams {
		if other.ID != s.ID && other.Name == name {
			sys.mu.RUnlock()
			return fmt.Errorf("%w: %q", wire.ErrStreamNameAlreadyExists, name)
		}
	}
	sys.mu.RUnlock()
	return s.Rename(name)
}

// PurgeStream truncates every topic of the stream.
func (sys *System) PurgeStream(session *Session, id wire.Identifier) error {
	if err := sys.ensurePermission(session, authstore.PermManage); err != nil {
		return err
	}
	s, err := sys.resolveStream(id)
	if err != nil {
		return err
	}
	if err := s.Purge(); err != nil {
		return err
	}
	sys.state.append(stateStreamPurged, s.ID, 0)
	return nil
}

// Topic resolves a (stream, topic) identifier pair.
func (sys *System) Topic(session *Session, streamID, topicID wire.Identifier) (*topic.Topic, error) {
	if err := sys.ensureAuthenticated(session); err != nil {
		return nil, err
	}
	return sys.resolveTopic(streamID, topicID)
}

func (sys *System) resolveTopic(streamID, topicID wire.Identifier) (*topic.Topic, error) {
	s, err := sys.resolveStream(streamID)
	if err != nil {
		return nil, err
	}
	if topicID.Kind == wire.IdentifierNumeric {
		return s.Topic(topicID.Numeric)
	}
	return s.TopicByName(topicID.Name)
}

// CreateTopic adds a topic to the stream.
func (sys *System) CreateTopic(session *Session, streamID wire.Identifier, id uint32, name string, cfg topic.Config) (*topic.Topic, error) {
	if err := sys.ensurePermission(session, authstore.PermManage); err != nil {
		return nil, err
	}
	s, err := sys.resolveStream(streamID)
	if err != nil {
		return nil, err
	}
	t, err := s.CreateTopic(id, name, cfg)
	if err != nil {
		return nil, err
	}
	sys.state.append(stateTopicCreated, s.ID, id)
	return t, nil
}

// DeleteTopic deletes a topic with all partitions and groups.
func (sys *System) DeleteTopic(session *Session, streamID, topicID wire.Identifier) error {
	if err := sys.ensurePermission(session, authstore.PermManage); err != nil {
		return err
	}
	s, err := sys.resolveStream(streamID)
	if err != nil {
		return err
	}
	t, err := sys.resolveTopic(streamID, topicID)
	if err != nil {
		return err
	}
	if err := s.DeleteTopic(t.ID); err != nil {
		return err
	}
	sys.state.append(stateTopicDeleted, s.ID, t.ID)
	return nil
}

// UpdateTopic reconfigures a topic's name, retention and size cap.
func (sys *System) UpdateTopic(session *Session, streamID, topicID wire.Identifier, name string, expiry time.Duration, maxSize uint64) error {
	if err := sys.ensurePermission(session, authstore.PermManage); err != nil {
		return err
	}
	s, err := sys.resolveStream(streamID)
	if err != nil {
		return err
	}
	t, err := sys.resolveTopic(streamID, topicID)
	if err != nil {
		return err
	}
	return s.UpdateTopic(t.ID, name, expiry, maxSize)
}

// PurgeTopic truncates all partitions of a topic.
func (sys *System) PurgeTopic(session *Session, streamID, topicID wire.Identifier) error {
	if err := sys.ensurePermission(session, authstore.PermManage); err != nil {
		return err
	}
	t, err := sys.resolveTopic(streamID, topicID)
	if err != nil {
		return err
	}
	if err := t.Purge(); err != nil {
		return err
	}
	sys.state.append(stateTopicPurged, t.StreamID, t.ID)
	return nil
}

// CreatePartitions adds partitions to a topic.
func (sys *System) CreatePartitions(session *Session, streamID, topicID wire.Identifier, count uint32) error {
	if err := sys.ensurePermission(session, authstore.PermManage); err != nil {
		return err
	}
	t, err := sys.resolveTopic(streamID, topicID)
	if err != nil {
		return err
	}
	return t.AddPartitions(count)
}

// DeletePartitions removes the highest-numbered partitions of a topic.
func (sys *System) DeletePartitions(session *Session, streamID, topicID wire.Identifier, count uint32) error {
	if err := sys.ensurePermission(session, authstore.PermManage); err != nil {
		return err
	}
	t, err := sys.resolveTopic(streamID, topicID)
	if err != nil {
		return err
	}
	return t.RemovePartitions(count)
}
