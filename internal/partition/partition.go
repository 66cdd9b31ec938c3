// Copyright (C) ledgerstream authors.
// All rights reserved. This file is part of ledgerstream.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package partition composes the segment log, its indexes and the batch
// cache into the per-partition append-and-poll engine: offset assignment,
// segment rotation, polling strategies and durable consumer offsets.
package partition

import (
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
	"github.com/ledgerstream/ledgerstream/internal/cache"
	"github.com/ledgerstream/ledgerstream/internal/segment"
	"github.com/ledgerstream/ledgerstream/internal/wire"
)

// Config carries the partition-scoped knobs resolved from the topic and
// server configuration.
type Config struct {
	SegmentSizeLimit uint64
	Confirmation     wire.Confirmation
	Fsync            bool
	MaxFileRetries   int
	RetryDelay       time.Duration
	MessageExpiry    time.Duration // zero means no expiry
}

// ConsumerKind distinguishes a direct consumer from a group member for
// offset bookkeeping.
type ConsumerKind uint8

const (
	ConsumerDirect ConsumerKind = iota
	ConsumerGroupMember
)

// Consumer identifies who is polling or storing an offset. For a group
// member, ID is the group and MemberID the client, so offsets are kept
// per member per partition.
type Consumer struct {
	Kind     ConsumerKind
	ID       uint32
	MemberID uint32
}

func (c Consumer) key() string {
	if c.Kind == ConsumerGroupMember {
		return fmt.Sprintf("g:%d:%d", c.ID, c.MemberID)
	}
	return fmt.Sprintf("c:%d", c.ID)
}

// PolledMessages is the result of one poll: the messages in increasing
// offset order plus the partition's current head offset at read time.
type PolledMessages struct {
	PartitionID   uint32
	CurrentOffset uint64
	Messages      []wire.Message
}

// Partition owns a monotonic next-offset counter, the ordered list of
// segments (only the last writable), the batch cache and the per-consumer
// offsets map.
type Partition struct {
	StreamID uint32
	TopicID  uint32
	ID       uint32

	dir       string
	cfg       Config
	createdAt time.Time

	mu         sync.Mutex
	segments   []*segment.Segment
	nextOffset uint64
	readOnly   bool

	cache   *cache.PartitionCache
	tracker *cache.MemoryTracker

	offsets *offsetStore
}

// Open loads (or creates) the partition rooted at dir. Existing segments
// are recovered in start-offset order to re-establish next_offset; a fresh
// writable segment is then rolled at the head.
func Open(dir string, streamID, topicID, id uint32, cfg Config, tracker *cache.MemoryTracker) (*Partition, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, wire.Wrap(wire.KindCannotCreateDirectory, err.Error())
	}

	p := &Partition{
		StreamID:  streamID,
		TopicID:   topicID,
		ID:        id,
		dir:       dir,
		cfg:       cfg,
		createdAt: time.Now(),
		cache:     cache.NewPartitionCache(tracker),
		tracker:   tracker,
	}

	starts, err := segmentStarts(dir)
	if err != nil {
		return nil, err
	}
	for _, start := range starts {
		seg, err := segment.OpenExisting(dir, start)
		if err != nil {
			return nil, err
		}
		p.segments = append(p.segments, seg)
		p.nextOffset = seg.EndOffset
	}
	// An empty head segment left by the previous run is reused by the new
	// writable segment instead of being tracked twice.
	if n := len(p.segments); n > 0 && p.segments[n-1].MessageCount == 0 {
		p.segments = p.segments[:n-1]
	}

	writable, err := segment.Create(dir, p.nextOffset, cfg.Confirmation, cfg.Fsync, cfg.MaxFileRetries, cfg.RetryDelay)
	if err != nil {
		return nil, err
	}
	p.segments = append(p.segments, writable)

	offsets, err := openOffsetStore(filepath.Join(dir, fmt.Sprintf("%d.offsets", id)))
	if err != nil {
		return nil, err
	}
	p.offsets = offsets

	cclog.Debugf("[PARTITION]> opened partition %d (stream %d, topic %d) at offset %d with %d segments",
		id, streamID, topicID, p.nextOffset, len(p.segments))
	return p, nil
}

// segmentStarts lists existing segment start offsets under dir, ascending.
// A lone writable segment left by a previous run shows up here too and is
// recovered as closed; the new head segment rolls after it.
func segmentStarts(dir string) ([]uint64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, wire.Wrap(wire.KindCannotReadFile, err.Error())
	}
	var starts []uint64
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, ".log") {
			continue
		}
		start, err := strconv.ParseUint(strings.TrimSuffix(name, ".log"), 10, 64)
		if err != nil {
			continue
		}
		starts = append(starts, start)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i] < starts[j] })
	return starts, nil
}

// Append assigns offsets starting at next_offset, stamps server timestamps
// and checksums, writes the batch through the writable segment under the
// partition's confirmation contract, inserts it into the cache and rotates
// the segment once it reaches the size limit.
func (p *Partition) Append(messages []wire.Message) error {
	if len(messages) == 0 {
		return wire.Wrap(wire.KindInvalidMessagesCount, "empty batch")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.readOnly {
		return fmt.Errorf("%w: partition %d is read-only after corruption", wire.ErrFileCorrupted, p.ID)
	}

	base := p.nextOffset
	now := uint64(time.Now().UnixMilli())
	for i := range messages {
		messages[i].Offset = base + uint64(i)
		messages[i].Timestamp = now
		messages[i].State = wire.MessageAvailable
		messages[i].Checksum = wire.Checksum(messages[i].Payload)
		if messages[i].ID == ([16]byte{}) {
			if _, err := rand.Read(messages[i].ID[:]); err != nil {
				return wire.Wrap(wire.KindCannotWriteToFile, err.Error())
			}
		}
	}

	batch := wire.Batch{
		Header: wire.BatchHeader{
			BaseOffset:      base,
			LastOffsetDelta: uint32(len(messages) - 1),
			BaseTimestamp:   now,
			MessagesCount:   uint32(len(messages)),
		},
		Messages: messages,
	}
	batch.Header.BatchLength = batch.SizeBytes()
	encoded := batch.AppendBytes(nil)

	writable := p.segments[len(p.segments)-1]
	size, err := writable.Append(base, uint32(len(messages)), now, encoded)
	if err != nil {
		return err
	}
	p.nextOffset = base + uint64(len(messages))

	p.cache.Insert(&cache.Slot{
		BaseOffset: base,
		LastOffset: p.nextOffset - 1,
		Bytes:      encoded,
	})

	if size >= p.cfg.SegmentSizeLimit {
		if err := p.rotateLocked(); err != nil {
			return err
		}
	}
	return nil
}

// rotateLocked closes the writable segment and opens a new one starting at
// next_offset. Caller holds p.mu.
func (p *Partition) rotateLocked() error {
	current := p.segments[len(p.segments)-1]
	if err := current.Close(); err != nil {
		cclog.Warnf("[PARTITION]> closing segment %d of partition %d: %v", current.StartOffset, p.ID, err)
	}
	next, err := segment.Create(p.dir, p.nextOffset, p.cfg.Confirmation, p.cfg.Fsync, p.cfg.MaxFileRetries, p.cfg.RetryDelay)
	if err != nil {
		return err
	}
	p.segments = append(p.segments, next)
	cclog.Debugf("[PARTITION]> rotated partition %d to segment %d", p.ID, p.nextOffset)
	return nil
}

// Poll resolves the starting offset from the strategy and reads up to
// count messages spanning cache and segments in increasing offset order.
func (p *Partition) Poll(consumer Consumer, strategy wire.PollingStrategy, count uint32) (PolledMessages, error) {
	p.mu.Lock()
	head := p.nextOffset
	segs := append([]*segment.Segment(nil), p.segments...)
	p.mu.Unlock()

	result := PolledMessages{PartitionID: p.ID, CurrentOffset: head}
	if count == 0 {
		return result, nil
	}

	start, ok, err := p.resolveStart(consumer, strategy, head, segs)
	if err != nil {
		return result, err
	}
	// Offsets older than the first live (non-expired, non-deleted) segment
	// are gone; clamp forward so an expired-only read comes back empty
	// instead of being served stale batches out of the cache.
	if first := p.firstAvailableOffset(segs); start < first {
		start = first
	}
	if !ok || start >= head {
		return result, nil
	}

	end := head - 1
	if span := uint64(count); start+span-1 < end {
		end = start + span - 1
	}

	msgs, err := p.readRange(segs, start, end)
	if err != nil {
		return result, err
	}
	result.Messages = msgs
	return result, nil
}

func (p *Partition) resolveStart(consumer Consumer, strategy wire.PollingStrategy, head uint64, segs []*segment.Segment) (uint64, bool, error) {
	switch strategy.Kind {
	case wire.PollOffset:
		return strategy.Value, true, nil
	case wire.PollTimestamp:
		for _, seg := range segs {
			if p.segmentExpired(seg) {
				continue
			}
			if off, ok := seg.LookupTimestamp(strategy.Value); ok {
				return off, true, nil
			}
		}
		return 0, false, nil
	case wire.PollFirst:
		return p.firstAvailableOffset(segs), true, nil
	case wire.PollLast:
		n := strategy.Value
		if n == 0 {
			return 0, false, nil
		}
		if n >= head {
			return p.firstAvailableOffset(segs), true, nil
		}
		return head - n, true, nil
	case wire.PollNext:
		if stored, ok := p.offsets.get(consumer.key()); ok {
			return stored + 1, true, nil
		}
		return p.firstAvailableOffset(segs), true, nil
	default:
		return 0, false, wire.Wrap(wire.KindInvalidOffset, "unknown polling strategy")
	}
}

func (p *Partition) firstAvailableOffset(segs []*segment.Segment) uint64 {
	for _, seg := range segs {
		if p.segmentExpired(seg) {
			continue
		}
		return seg.StartOffset
	}
	if len(segs) > 0 {
		return segs[len(segs)-1].EndOffset
	}
	return 0
}

// segmentExpired reports whether every message in the segment is past the
// topic's retention. Past-expiry segments are skipped by reads even before
// the background sweep removes them.
func (p *Partition) segmentExpired(seg *segment.Segment) bool {
	if p.cfg.MessageExpiry <= 0 || seg.MessageCount == 0 {
		return false
	}
	newest := time.UnixMilli(int64(seg.MaxTimestamp()))
	return time.Since(newest) > p.cfg.MessageExpiry
}

// readRange assembles messages [start, end] from the cache where possible
// and from segment files for the rest, concatenated in offset order.
func (p *Partition) readRange(segs []*segment.Segment, start, end uint64) ([]wire.Message, error) {
	slots, coversStart := p.cache.Lookup(start, end)

	if coversStart {
		msgs, err := messagesFromSlots(slots, start, end)
		if err != nil {
			return nil, err
		}
		if len(msgs) > 0 {
			last := msgs[len(msgs)-1].Offset
			if last >= end {
				return msgs, nil
			}
			tail, err := p.readDisk(segs, last+1, end)
			if err != nil {
				return nil, err
			}
			return append(msgs, tail...), nil
		}
	}

	// Cache can serve at most the tail of the range; older offsets come
	// from disk.
	if len(slots) > 0 && slots[0].BaseOffset > start {
		head, err := p.readDisk(segs, start, slots[0].BaseOffset-1)
		if err != nil {
			return nil, err
		}
		tail, err := messagesFromSlots(slots, slots[0].BaseOffset, end)
		if err != nil {
			return nil, err
		}
		return append(head, tail...), nil
	}

	return p.readDisk(segs, start, end)
}

func messagesFromSlots(slots []cache.Slot, start, end uint64) ([]wire.Message, error) {
	var out []wire.Message
	for _, slot := range slots {
		batch, err := wire.ReadBatch(slot.Bytes)
		if err != nil {
			return nil, wire.Wrap(wire.KindFileCorrupted, err.Error())
		}
		for _, m := range batch.Messages {
			if m.Offset < start || m.Offset > end {
				continue
			}
			out = append(out, m)
		}
	}
	return out, nil
}

// readDisk scans the segments overlapping [start, end], decoding batches
// from the index-resolved position forward. Reads never run past a
// segment's durable byte count, so a NoWait batch still in the persister
// queue is only visible through the cache.
func (p *Partition) readDisk(segs []*segment.Segment, start, end uint64) ([]wire.Message, error) {
	var out []wire.Message
	for _, seg := range segs {
		if seg.EndOffset <= start || seg.StartOffset > end {
			continue
		}
		if p.segmentExpired(seg) {
			continue
		}

		from := start
		if seg.StartOffset > from {
			from = seg.StartOffset
		}
		pos, ok := seg.LookupOffset(from)
		if !ok {
			pos = 0
		}
		durable := seg.DurableSizeBytes()
		if uint64(pos) >= durable {
			continue
		}
		raw, err := seg.ReadAt(pos, uint32(durable-uint64(pos)))
		if err != nil {
			return nil, err
		}

		for len(raw) > 0 {
			batch, err := wire.ReadBatch(raw)
			if err != nil {
				return nil, wire.Wrap(wire.KindFileCorrupted, err.Error())
			}
			for _, m := range batch.Messages {
				if m.Offset < start || m.Offset > end {
					continue
				}
				out = append(out, m)
			}
			if batch.Header.BaseOffset+uint64(batch.Header.MessagesCount) > end {
				break
			}
			if batch.Header.BatchLength == 0 || uint64(batch.Header.BatchLength) > uint64(len(raw)) {
				break
			}
			raw = raw[batch.Header.BatchLength:]
		}
	}
	return out, nil
}

// StoreConsumerOffset durably records the consumer's position.
func (p *Partition) StoreConsumerOffset(consumer Consumer, offset uint64) error {
	p.mu.Lock()
	head := p.nextOffset
	p.mu.Unlock()
	if head > 0 && offset >= head {
		return fmt.Errorf("%w: offset %d past head %d", wire.ErrInvalidOffset, offset, head)
	}
	return p.offsets.store(consumer.key(), offset)
}

// ConsumerOffset returns the stored offset for the consumer.
func (p *Partition) ConsumerOffset(consumer Consumer) (uint64, bool) {
	return p.offsets.get(consumer.key())
}

// DeleteConsumerOffset removes the stored offset; deleting a nonexistent
// one is a no-op.
func (p *Partition) DeleteConsumerOffset(consumer Consumer) error {
	return p.offsets.delete(consumer.key())
}

// FlushUnsavedBuffer forces a NoWait partition's persister queue to drain,
// optionally fsyncing afterwards.
func (p *Partition) FlushUnsavedBuffer(fsync bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.segments[len(p.segments)-1].Flush(fsync)
}

// SetMessageExpiry updates the retention applied by reads and the expiry
// sweep, for topic reconfiguration.
func (p *Partition) SetMessageExpiry(expiry time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg.MessageExpiry = expiry
}

// NextOffset returns the partition's head offset.
func (p *Partition) NextOffset() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nextOffset
}

// MessagesCount sums message counts over the partition's live segments.
func (p *Partition) MessagesCount() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	var n uint64
	for _, seg := range p.segments {
		if p.segmentExpired(seg) {
			continue
		}
		n += seg.MessageCount
	}
	return n
}

// SizeBytes sums the byte size of all segments.
func (p *Partition) SizeBytes() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	var n uint64
	for _, seg := range p.segments {
		n += seg.SizeBytes()
	}
	return n
}

// CacheSize returns the bytes the partition's cache currently holds.
func (p *Partition) CacheSize() uint64 {
	return p.cache.CurrentSize()
}

// EvictCache drops the oldest cached batches until at least sizeToRemove
// bytes are freed. Called from detached cleanup tasks; never blocks an
// appender beyond the cache's own short critical section.
func (p *Partition) EvictCache(sizeToRemove uint64) {
	p.cache.EvictBySize(sizeToRemove)
}

// SweepExpired deletes fully-expired segments, rotating first if the
// writable head itself is fully expired. Returns how many segments were
// removed.
func (p *Partition) SweepExpired() int {
	if p.cfg.MessageExpiry <= 0 {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	head := p.segments[len(p.segments)-1]
	if head.MessageCount > 0 && p.segmentExpired(head) {
		if err := p.rotateLocked(); err != nil {
			cclog.Errorf("[PARTITION]> rotating expired head of partition %d: %v", p.ID, err)
			return 0
		}
	}

	removed := 0
	for len(p.segments) > 1 {
		oldest := p.segments[0]
		if oldest.State != segment.Closed || !p.segmentExpired(oldest) {
			break
		}
		if err := oldest.Remove(); err != nil {
			cclog.Errorf("[PARTITION]> removing expired segment %d of partition %d: %v", oldest.StartOffset, p.ID, err)
			break
		}
		p.segments = p.segments[1:]
		removed++
	}
	if removed > 0 {
		p.cache.Purge()
		cclog.Debugf("[PARTITION]> expiry sweep removed %d segments from partition %d", removed, p.ID)
	}
	return removed
}

// DropOldestSegment removes the oldest closed segment to reclaim space for
// the topic's max-size enforcement. Returns the bytes freed, zero when only
// the writable segment remains.
func (p *Partition) DropOldestSegment() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.segments) < 2 {
		return 0
	}
	oldest := p.segments[0]
	freed := oldest.SizeBytes()
	if err := oldest.Remove(); err != nil {
		cclog.Errorf("[PARTITION]> removing segment %d of partition %d: %v", oldest.StartOffset, p.ID, err)
		return 0
	}
	p.segments = p.segments[1:]
	return freed
}

// Purge truncates the partition to empty while keeping its structure:
// all segments and stored offsets are removed and a fresh segment opens at
// offset zero.
func (p *Partition) Purge() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, seg := range p.segments {
		if seg.State == segment.Open {
			if err := seg.Close(); err != nil {
				cclog.Warnf("[PARTITION]> closing segment %d during purge: %v", seg.StartOffset, err)
			}
		}
		_ = seg.Remove()
	}
	p.segments = nil
	p.nextOffset = 0
	p.cache.Purge()
	if err := p.offsets.reset(); err != nil {
		return err
	}

	writable, err := segment.Create(p.dir, 0, p.cfg.Confirmation, p.cfg.Fsync, p.cfg.MaxFileRetries, p.cfg.RetryDelay)
	if err != nil {
		return err
	}
	p.segments = []*segment.Segment{writable}
	return nil
}

// Delete closes the partition and, when removeFromDisk is set, removes its
// directory and every file in it.
func (p *Partition) Delete(removeFromDisk bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, seg := range p.segments {
		if seg.State == segment.Open {
			if err := seg.Close(); err != nil {
				cclog.Warnf("[PARTITION]> closing segment %d during delete: %v", seg.StartOffset, err)
			}
		}
	}
	p.cache.Purge()
	if removeFromDisk {
		if err := os.RemoveAll(p.dir); err != nil {
			return wire.Wrap(wire.KindCannotWriteToFile, err.Error())
		}
	}
	return nil
}

// Close shuts the partition down cleanly, draining any NoWait persister.
func (p *Partition) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for _, seg := range p.segments {
		if seg.State != segment.Open {
			continue
		}
		if err := seg.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
