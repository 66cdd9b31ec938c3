// Copyright (C) ledgerstream authors.
// All rights reserved. This file is part of ledgerstream.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package stream implements the topic namespace: a stream owns its topics
// and the on-disk directory subtree they persist under.
package stream

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"

	"github.com/ledgerstream/ledgerstream/internal/cache"
	"github.com/ledgerstream/ledgerstream/internal/partition"
	"github.com/ledgerstream/ledgerstream/internal/topic"
	"github.com/ledgerstream/ledgerstream/internal/wire"
)

// Stream is a namespace of topics and the persistence root for their
// segment directories.
type Stream struct {
	ID        uint32
	Name      string
	CreatedAt time.Time

	dir     string
	pcfg    partition.Config
	tracker *cache.MemoryTracker

	mu     sync.RWMutex
	topics map[uint32]*topic.Topic
}

// Create makes a new stream directory and persists its metadata.
func Create(dir string, id uint32, name string, pcfg partition.Config, tracker *cache.MemoryTracker) (*Stream, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, wire.Wrap(wire.KindCannotCreateDirectory, err.Error())
	}
	s := &Stream{
		ID:        id,
		Name:      name,
		CreatedAt: time.Now(),
		dir:       dir,
		pcfg:      pcfg,
		tracker:   tracker,
		topics:    make(map[uint32]*topic.Topic),
	}
	if err := s.saveInfo(); err != nil {
		return nil, err
	}
	return s, nil
}

// Load reopens a stream from its directory, reloading every topic found
// under it.
func Load(dir string, id uint32, pcfg partition.Config, tracker *cache.MemoryTracker) (*Stream, error) {
	info, err := readInfo(filepath.Join(dir, infoFileName))
	if err != nil {
		return nil, err
	}
	s := &Stream{
		ID:        id,
		Name:      info.Name,
		CreatedAt: time.UnixMilli(int64(info.CreatedAt)),
		dir:       dir,
		pcfg:      pcfg,
		tracker:   tracker,
		topics:    make(map[uint32]*topic.Topic),
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, wire.Wrap(wire.KindCannotReadFile, err.Error())
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		tid, err := strconv.ParseUint(e.Name(), 10, 32)
		if err != nil {
			continue
		}
		topicDir := filepath.Join(dir, e.Name())
		tinfo, err := readInfo(filepath.Join(topicDir, infoFileName))
		if err != nil {
			cclog.Warnf("[STREAM]> skipping topic dir %s: %v", topicDir, err)
			continue
		}
		tp, err := topic.Open(topicDir, id, uint32(tid), tinfo.Name, tinfo.TopicConfig(), pcfg, tracker)
		if err != nil {
			return nil, err
		}
		s.topics[uint32(tid)] = tp
	}
	return s, nil
}

// CreateTopic adds a topic with a unique (id, name) to the stream and
// persists its metadata.
func (s *Stream) CreateTopic(id uint32, name string, cfg topic.Config) (*topic.Topic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.topics[id]; ok {
		return nil, fmt.Errorf("%w: topic %d already exists in stream %d", wire.ErrTopicIDNotFound, id, s.ID)
	}
	for _, t := range s.topics {
		if t.Name == name {
			return nil, wire.Wrap(wire.KindInvalidFormat, fmt.Sprintf("topic %q already exists in stream %d", name, s.ID))
		}
	}

	dir := filepath.Join(s.dir, fmt.Sprintf("%d", id))
	tp, err := topic.Open(dir, s.ID, id, name, cfg, s.pcfg, s.tracker)
	if err != nil {
		return nil, err
	}
	if err := writeInfo(filepath.Join(dir, infoFileName), infoRecord{
		ID:              id,
		Name:            name,
		CreatedAt:       uint64(time.Now().UnixMilli()),
		PartitionsCount: cfg.PartitionsCount,
		MessageExpiryMs: uint64(cfg.MessageExpiry / time.Millisecond),
		MaxTopicSize:    cfg.MaxTopicSize,
		CompressionAlgo: cfg.CompressionAlgo,
		Replication:     cfg.ReplicationFactor,
		KeyExpression:   cfg.KeyExpression,
	}); err != nil {
		tp.Close()
		return nil, err
	}
	s.topics[id] = tp
	cclog.Infof("[STREAM]> created topic %d (%s) with %d partitions in stream %d", id, name, cfg.PartitionsCount, s.ID)
	return tp, nil
}

// Topic returns the topic with the given numeric ID.
func (s *Stream) Topic(id uint32) (*topic.Topic, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.topics[id]
	if !ok {
		return nil, fmt.Errorf("%w: topic %d in stream %d", wire.ErrTopicIDNotFound, id, s.ID)
	}
	return t, nil
}

// TopicByName returns the topic with the given name.
func (s *Stream) TopicByName(name string) (*topic.Topic, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.topics {
		if t.Name == name {
			return t, nil
		}
	}
	return nil, fmt.Errorf("%w: topic %q in stream %d", wire.ErrTopicIDNotFound, name, s.ID)
}

// Topics lists the stream's topics in ID order.
func (s *Stream) Topics() []*topic.Topic {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*topic.Topic, 0, len(s.topics))
	for _, t := range s.topics {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// UpdateTopic reconfigures a topic and rewrites its metadata file.
func (s *Stream) UpdateTopic(id uint32, name string, expiry time.Duration, maxSize uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.topics[id]
	if !ok {
		return fmt.Errorf("%w: topic %d in stream %d", wire.ErrTopicIDNotFound, id, s.ID)
	}
	for _, other := range s.topics {
		if other.ID != id && other.Name == name {
			return wire.Wrap(wire.KindInvalidFormat, fmt.Sprintf("topic %q already exists in stream %d", name, s.ID))
		}
	}
	t.Update(name, expiry, maxSize)
	cfg := t.Config()
	return writeInfo(filepath.Join(s.dir, fmt.Sprintf("%d", id), infoFileName), infoRecord{
		ID:              id,
		Name:            t.Name,
		CreatedAt:       uint64(t.CreatedAt.UnixMilli()),
		PartitionsCount: cfg.PartitionsCount,
		MessageExpiryMs: uint64(cfg.MessageExpiry / time.Millisecond),
		MaxTopicSize:    cfg.MaxTopicSize,
		CompressionAlgo: cfg.CompressionAlgo,
		Replication:     cfg.ReplicationFactor,
		KeyExpression:   cfg.KeyExpression,
	})
}

// DeleteTopic deletes a topic, cascading to its partitions and groups.
func (s *Stream) DeleteTopic(id uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.topics[id]
	if !ok {
		return fmt.Errorf("%w: topic %d in stream %d", wire.ErrTopicIDNotFound, id, s.ID)
	}
	if err := t.Delete(); err != nil {
		return err
	}
	delete(s.topics, id)
	return nil
}

// Purge truncates every topic while keeping the stream structure.
func (s *Stream) Purge() error {
	for _, t := range s.Topics() {
		if err := t.Purge(); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes the stream and everything under it.
func (s *Stream) Delete() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.topics {
		if err := t.Delete(); err != nil {
			return err
		}
		delete(s.topics, id)
	}
	if err := os.RemoveAll(s.dir); err != nil {
		return wire.Wrap(wire.KindCannotWriteToFile, err.Error())
	}
	return nil
}

// Rename updates the stream's name and persists it.
func (s *Stream) Rename(name string) error {
	s.mu.Lock()
	s.Name = name
	s.mu.Unlock()
	return s.saveInfo()
}

// Close shuts every topic down cleanly.
func (s *Stream) Close() error {
	var firstErr error
	for _, t := range s.Topics() {
		if err := t.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Stream) saveInfo() error {
	return writeInfo(filepath.Join(s.dir, infoFileName), infoRecord{
		ID:        s.ID,
		Name:      s.Name,
		CreatedAt: uint64(s.CreatedAt.UnixMilli()),
	})
}
