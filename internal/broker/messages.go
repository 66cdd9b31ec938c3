// Copyright (C) ledgerstream authors.
// All rights reserved. This file is part of ledgerstream.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package broker

import (
	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"

	"github.com/ledgerstream/ledgerstream/internal/authstore"
	"github.com/ledgerstream/ledgerstream/internal/cache"
	"github.com/ledgerstream/ledgerstream/internal/partition"
	"github.com/ledgerstream/ledgerstream/internal/topic"
	"github.com/ledgerstream/ledgerstream/internal/wire"
)

// AppendMessages encrypts payloads if an encryptor is configured, checks
// cache pressure and routes the batch to the topic.
func (sys *System) AppendMessages(session *Session, streamID, topicID wire.Identifier, partitioning wire.Partitioning, messages []wire.Message) (uint32, error) {
	if err := sys.ensurePermission(session, authstore.PermSend); err != nil {
		return 0, err
	}
	if len(messages) == 0 {
		return 0, wire.Wrap(wire.KindInvalidMessagesCount, "no messages to append")
	}
	t, err := sys.resolveTopic(streamID, topicID)
	if err != nil {
		return 0, err
	}

	var batchSize uint64
	for i := range messages {
		ciphertext, err := sys.encryptor.Encrypt(messages[i].Payload)
		if err != nil {
			return 0, wire.Wrap(wire.KindCannotEncryptData, err.Error())
		}
		messages[i].Payload = ciphertext
		batchSize += uint64(len(ciphertext))
	}

	// Cache pressure: schedule a fire-and-forget cleanup before the write
	// so the insert below does not push usage past the budget for long.
	if sys.tracker.WillExceed(batchSize) {
		sys.CleanCache(batchSize)
	}

	pid, err := t.Append(partitioning, messages)
	if err != nil {
		return 0, err
	}
	sys.metrics.MessagesAppended.Add(float64(len(messages)))
	return pid, nil
}

// PollMessages resolves the consumer to a partition, reads, and decrypts
// each payload. A decrypt failure of any message aborts the poll with no
// partial results.
func (sys *System) PollMessages(session *Session, streamID, topicID wire.Identifier, identity topic.PollIdentity, partitionID uint32, strategy wire.PollingStrategy, count uint32, autoCommit bool) (partition.PolledMessages, error) {
	if err := sys.ensurePermission(session, authstore.PermPoll); err != nil {
		return partition.PolledMessages{}, err
	}
	t, err := sys.resolveTopic(streamID, topicID)
	if err != nil {
		return partition.PolledMessages{}, err
	}

	polled, err := t.Poll(identity, partitionID, strategy, count)
	if err != nil {
		return partition.PolledMessages{}, err
	}

	for i := range polled.Messages {
		plaintext, err := sys.encryptor.Decrypt(polled.Messages[i].Payload)
		if err != nil {
			return partition.PolledMessages{}, wire.Wrap(wire.KindCannotDecryptData, err.Error())
		}
		polled.Messages[i].Payload = plaintext
	}

	if autoCommit && len(polled.Messages) > 0 {
		last := polled.Messages[len(polled.Messages)-1].Offset
		if err := sys.storeOffset(t, identity, polled.PartitionID, last); err != nil {
			cclog.Warnf("[SYSTEM]> auto-commit offset %d: %v", last, err)
		}
	}

	sys.metrics.MessagesPolled.Add(float64(len(polled.Messages)))
	return polled, nil
}

func (sys *System) storeOffset(t *topic.Topic, identity topic.PollIdentity, partitionID uint32, offset uint64) error {
	if partitionID == 0 {
		return nil
	}
	p, err := t.Partition(partitionID)
	if err != nil {
		return err
	}
	return p.StoreConsumerOffset(consumerFor(identity), offset)
}

func consumerFor(identity topic.PollIdentity) partition.Consumer {
	if identity.GroupID != 0 {
		return partition.Consumer{Kind: partition.ConsumerGroupMember, ID: identity.GroupID, MemberID: identity.ClientID}
	}
	return partition.Consumer{Kind: partition.ConsumerDirect, ID: identity.ClientID}
}

// StoreConsumerOffset durably records a consumer's position on a
// partition.
func (sys *System) StoreConsumerOffset(session *Session, streamID, topicID wire.Identifier, identity topic.PollIdentity, partitionID uint32, offset uint64) error {
	if err := sys.ensurePermission(session, authstore.PermPoll); err != nil {
		return err
	}
	t, err := sys.resolveTopic(streamID, topicID)
	if err != nil {
		return err
	}
	p, err := t.Partition(partitionID)
	if err != nil {
		return err
	}
	return p.StoreConsumerOffset(consumerFor(identity), offset)
}

// GetConsumerOffset reads a stored position.
func (sys *System) GetConsumerOffset(session *Session, streamID, topicID wire.Identifier, identity topic.PollIdentity, partitionID uint32) (uint64, bool, error) {
	if err := sys.ensurePermission(session, authstore.PermPoll); err != nil {
		return 0, false, err
	}
	t, err := sys.resolveTopic(streamID, topicID)
	if err != nil {
		return 0, false, err
	}
	p, err := t.Partition(partitionID)
	if err != nil {
		return 0, false, err
	}
	offset, ok := p.ConsumerOffset(consumerFor(identity))
	return offset, ok, nil
}

// DeleteConsumerOffset removes a stored position.
func (sys *System) DeleteConsumerOffset(session *Session, streamID, topicID wire.Identifier, identity topic.PollIdentity, partitionID uint32) error {
	if err := sys.ensurePermission(session, authstore.PermPoll); err != nil {
		return err
	}
	t, err := sys.resolveTopic(streamID, topicID)
	if err != nil {
		return err
	}
	p, err := t.Partition(partitionID)
	if err != nil {
		return err
	}
	return p.DeleteConsumerOffset(consumerFor(identity))
}

// FlushUnsavedBuffer drains a partition's persister queue.
func (sys *System) FlushUnsavedBuffer(session *Session, streamID, topicID wire.Identifier, partitionID uint32, fsync bool) error {
	if err := sys.ensurePermission(session, authstore.PermSend); err != nil {
		return err
	}
	t, err := sys.resolveTopic(streamID, topicID)
	if err != nil {
		return err
	}
	p, err := t.Partition(partitionID)
	if err != nil {
		return err
	}
	return p.FlushUnsavedBuffer(fsync)
}

// CleanCache evicts cached batches across all partitions, each taking a
// share proportional to its usage times the over-eviction factor. Runs
// as detached background tasks so writers are never blocked on it.
func (sys *System) CleanCache(incomingBytes uint64) {
	usage := sys.tracker.UsageBytes()
	budget := sys.tracker.BudgetBytes()
	if usage+incomingBytes <= budget {
		return
	}
	sizeToClean := usage + incomingBytes - budget

	for _, s := range sys.Streams() {
		for _, t := range s.Topics() {
			for _, p := range t.Partitions() {
				partSize := p.CacheSize()
				if partSize == 0 {
					continue
				}
				toRemove := cache.SizeToRemove(partSize, usage, sizeToClean)
				if toRemove == 0 {
					continue
				}
				go func(p *partition.Partition, n uint64) {
					p.EvictCache(n)
					sys.metrics.CacheEvictions.Inc()
				}(p, toRemove)
			}
		}
	}
}

// Consumer groups, routed through the topic.

func (sys *System) JoinConsumerGroup(session *Session, streamID, topicID wire.Identifier, groupID uint32) error {
	if err := sys.ensurePermission(session, authstore.PermPoll); err != nil {
		return err
	}
	t, err := sys.resolveTopic(streamID, topicID)
	if err != nil {
		return err
	}
	if err := t.JoinGroup(groupID, session.ClientID); err != nil {
		return err
	}
	session.RememberGroup(GroupMembership{StreamID: t.StreamID, TopicID: t.ID, GroupID: groupID})
	return nil
}

func (sys *System) LeaveConsumerGroup(session *Session, streamID, topicID wire.Identifier, groupID uint32) error {
	if err := sys.ensurePermission(session, authstore.PermPoll); err != nil {
		return err
	}
	t, err := sys.resolveTopic(streamID, topicID)
	if err != nil {
		return err
	}
	if err := t.LeaveGroup(groupID, session.ClientID); err != nil {
		return err
	}
	session.ForgetGroup(GroupMembership{StreamID: t.StreamID, TopicID: t.ID, GroupID: groupID})
	return nil
}
