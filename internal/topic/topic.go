// Copyright (C) ledgerstream authors.
// All rights reserved. This file is part of ledgerstream.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package topic owns a topic's partitions and consumer groups: routing
// appends by partitioning rule, resolving polls to the right partition,
// and the scheduled retention sweeps (message expiry, max topic size).
package topic

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/ledgerstream/ledgerstream/internal/cache"
	"github.com/ledgerstream/ledgerstream/internal/group"
	"github.com/ledgerstream/ledgerstream/internal/partition"
	"github.com/ledgerstream/ledgerstream/internal/wire"
)

// Config is the per-topic configuration, persisted in topic.info.
type Config struct {
	PartitionsCount   uint32
	MessageExpiry     time.Duration // zero means no expiry
	MaxTopicSize      uint64        // zero means unbounded
	CompressionAlgo   uint8
	ReplicationFactor uint8

	// KeyExpression optionally routes Balanced appends by an expression
	// over the first message's headers instead of round-robin. Compiled
	// once at topic creation.
	KeyExpression string
}

// Topic owns 1..N partitions and 0..M consumer groups.
type Topic struct {
	StreamID  uint32
	ID        uint32
	Name      string
	CreatedAt time.Time

	dir string
	cfg Config

	mu         sync.RWMutex
	partitions map[uint32]*partition.Partition
	groups     map[uint32]*groupEntry

	roundRobin atomic.Uint32
	keyProgram *vm.Program

	partitionCfg partition.Config
	tracker      *cache.MemoryTracker
}

type groupEntry struct {
	group *group.ConsumerGroup
}

// Open creates or reloads a topic rooted at dir with partitions numbered
// 1..PartitionsCount, matching the on-disk `<sid>/<tid>/<pid>/` layout.
func Open(dir string, streamID, id uint32, name string, cfg Config, pcfg partition.Config, tracker *cache.MemoryTracker) (*Topic, error) {
	if cfg.PartitionsCount < 1 {
		return nil, wire.Wrap(wire.KindNoPartitions, "a topic needs at least one partition")
	}
	pcfg.MessageExpiry = cfg.MessageExpiry

	t := &Topic{
		StreamID:     streamID,
		ID:           id,
		Name:         name,
		CreatedAt:    time.Now(),
		dir:          dir,
		cfg:          cfg,
		partitions:   make(map[uint32]*partition.Partition),
		groups:       make(map[uint32]*groupEntry),
		partitionCfg: pcfg,
		tracker:      tracker,
	}

	if cfg.KeyExpression != "" {
		program, err := expr.Compile(cfg.KeyExpression, expr.Env(routingEnv{}))
		if err != nil {
			return nil, wire.Wrap(wire.KindInvalidPartitioning, fmt.Sprintf("key expression: %v", err))
		}
		t.keyProgram = program
	}

	for pid := uint32(1); pid <= cfg.PartitionsCount; pid++ {
		p, err := partition.Open(filepath.Join(dir, fmt.Sprintf("%d", pid)), streamID, id, pid, pcfg, tracker)
		if err != nil {
			return nil, err
		}
		t.partitions[pid] = p
	}
	return t, nil
}

// routingEnv is the expression environment a KeyExpression is evaluated
// against: the first message's headers.
type routingEnv struct {
	Headers map[string]string `expr:"headers"`
}

// Config returns the topic's configuration.
func (t *Topic) Config() Config { return t.cfg }

// Partition returns the partition with the given ID.
func (t *Topic) Partition(id uint32) (*partition.Partition, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.partitions[id]
	if !ok {
		return nil, fmt.Errorf("%w: partition %d in topic %d", wire.ErrPartitionNotFound, id, t.ID)
	}
	return p, nil
}

// PartitionIDs returns the topic's partition IDs in ascending order.
func (t *Topic) PartitionIDs() []uint32 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := make([]uint32, 0, len(t.partitions))
	for id := range t.partitions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// PartitionsCount returns the current partition count.
func (t *Topic) PartitionsCount() uint32 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return uint32(len(t.partitions))
}

// Append routes the messages to a partition per the partitioning rule and
// appends them there. The topic lock is released before partition I/O.
func (t *Topic) Append(partitioning wire.Partitioning, messages []wire.Message) (uint32, error) {
	p, err := t.resolvePartition(partitioning, messages)
	if err != nil {
		return 0, err
	}
	return p.ID, p.Append(messages)
}

func (t *Topic) resolvePartition(partitioning wire.Partitioning, messages []wire.Message) (*partition.Partition, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	count := uint32(len(t.partitions))
	if count == 0 {
		return nil, wire.Wrap(wire.KindNoPartitions, fmt.Sprintf("topic %d has no partitions", t.ID))
	}

	switch partitioning.Kind {
	case wire.PartitioningBalanced:
		if t.keyProgram != nil && len(messages) > 0 && len(messages[0].Headers) > 0 {
			key, err := t.evalRoutingKey(messages[0].Headers)
			if err != nil {
				return nil, err
			}
			if key != "" {
				return t.partitionByKeyLocked([]byte(key), count)
			}
		}
		next := t.roundRobin.Add(1)
		pid := (next-1)%count + 1
		return t.partitions[pid], nil
	case wire.PartitioningPartitionID:
		p, ok := t.partitions[partitioning.PartitionID]
		if !ok {
			return nil, fmt.Errorf("%w: partition %d in topic %d", wire.ErrPartitionNotFound, partitioning.PartitionID, t.ID)
		}
		return p, nil
	case wire.PartitioningMessagesKey:
		if len(partitioning.Key) == 0 {
			return nil, wire.Wrap(wire.KindInvalidPartitioning, "empty messages key")
		}
		return t.partitionByKeyLocked(partitioning.Key, count)
	default:
		return nil, wire.Wrap(wire.KindInvalidPartitioning, fmt.Sprintf("unknown partitioning kind %d", partitioning.Kind))
	}
}

// partitionByKeyLocked routes a key to a stable partition: identical keys
// land on the same partition as long as the partition count is unchanged.
func (t *Topic) partitionByKeyLocked(key []byte, count uint32) (*partition.Partition, error) {
	h := fnv.New32a()
	h.Write(key)
	pid := h.Sum32()%count + 1
	p, ok := t.partitions[pid]
	if !ok {
		return nil, fmt.Errorf("%w: partition %d in topic %d", wire.ErrPartitionNotFound, pid, t.ID)
	}
	return p, nil
}

func (t *Topic) evalRoutingKey(headers map[string]string) (string, error) {
	out, err := expr.Run(t.keyProgram, routingEnv{Headers: headers})
	if err != nil {
		return "", wire.Wrap(wire.KindInvalidPartitioning, fmt.Sprintf("key expression: %v", err))
	}
	key, ok := out.(string)
	if !ok {
		return "", wire.Wrap(wire.KindInvalidPartitioning, "key expression must return a string")
	}
	return key, nil
}

// MessagesCount sums message counts across partitions.
func (t *Topic) MessagesCount() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var n uint64
	for _, p := range t.partitions {
		n += p.MessagesCount()
	}
	return n
}

// SizeBytes sums on-disk sizes across partitions.
func (t *Topic) SizeBytes() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var n uint64
	for _, p := range t.partitions {
		n += p.SizeBytes()
	}
	return n
}

// Partitions returns the topic's partitions in ID order.
func (t *Topic) Partitions() []*partition.Partition {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*partition.Partition, 0, len(t.partitions))
	for _, id := range t.partitionIDsLocked() {
		out = append(out, t.partitions[id])
	}
	return out
}

func (t *Topic) partitionIDsLocked() []uint32 {
	ids := make([]uint32, 0, len(t.partitions))
	for id := range t.partitions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// AddPartitions creates count additional partitions numbered after the
// current highest.
func (t *Topic) AddPartitions(count uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var max uint32
	for id := range t.partitions {
		if id > max {
			max = id
		}
	}
	for i := uint32(1); i <= count; i++ {
		pid := max + i
		p, err := partition.Open(filepath.Join(t.dir, fmt.Sprintf("%d", pid)), t.StreamID, t.ID, pid, t.partitionCfg, t.tracker)
		if err != nil {
			return err
		}
		t.partitions[pid] = p
	}
	t.rebalanceAllLocked()
	return nil
}

// RemovePartitions deletes the count highest-numbered partitions and their
// files. At least one partition always remains.
func (t *Topic) RemovePartitions(count uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	ids := t.partitionIDsLocked()
	for i := uint32(0); i < count && len(ids) > 1; i++ {
		victim := ids[len(ids)-1]
		ids = ids[:len(ids)-1]
		if err := t.partitions[victim].Delete(true); err != nil {
			return err
		}
		delete(t.partitions, victim)
	}
	t.rebalanceAllLocked()
	return nil
}

// SweepExpired runs the expiry sweep across all partitions. Wired to the
// scheduled maintenance job.
func (t *Topic) SweepExpired() {
	if t.cfg.MessageExpiry <= 0 {
		return
	}
	for _, p := range t.Partitions() {
		p.SweepExpired()
	}
}

// EnforceMaxSize deletes oldest segments across partitions round-robin
// until the topic is back under its size limit. Wired to the scheduled
// maintenance job.
func (t *Topic) EnforceMaxSize() {
	if t.cfg.MaxTopicSize == 0 {
		return
	}
	for t.SizeBytes() > t.cfg.MaxTopicSize {
		var freed uint64
		for _, p := range t.Partitions() {
			freed += p.DropOldestSegment()
			if t.SizeBytes() <= t.cfg.MaxTopicSize {
				break
			}
		}
		if freed == 0 {
			// Nothing left to reclaim but the writable segments.
			return
		}
		cclog.Debugf("[TOPIC]> size enforcement freed %d bytes on topic %d", freed, t.ID)
	}
}

// Update reconfigures the topic's name, retention and size cap, pushing
// the new expiry down to every partition.
func (t *Topic) Update(name string, expiry time.Duration, maxSize uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if name != "" {
		t.Name = name
	}
	t.cfg.MessageExpiry = expiry
	t.cfg.MaxTopicSize = maxSize
	for _, p := range t.partitions {
		p.SetMessageExpiry(expiry)
	}
}

// Purge truncates every partition while keeping the topic's structure.
func (t *Topic) Purge() error {
	for _, p := range t.Partitions() {
		if err := p.Purge(); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes the topic's partitions, groups and directory.
func (t *Topic) Delete() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, p := range t.partitions {
		if err := p.Delete(true); err != nil {
			return err
		}
	}
	t.partitions = make(map[uint32]*partition.Partition)
	t.groups = make(map[uint32]*groupEntry)
	if err := os.RemoveAll(t.dir); err != nil {
		return wire.Wrap(wire.KindCannotWriteToFile, err.Error())
	}
	return nil
}

// Close shuts every partition down cleanly.
func (t *Topic) Close() error {
	var firstErr error
	for _, p := range t.Partitions() {
		if err := p.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
