// Copyright (C) ledgerstream authors.
// All rights reserved. This file is part of ledgerstream.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package segment

import (
	"os"
	"sync"
	"sync/atomic"
	"time"

	cclog "github.com/ClusterCockpit/cc-lib/v2/ccLogger"
)

// persisterQueueCapacity bounds the in-flight batch queue; SaveBatch
// backpressures the caller once it fills, per the confirmation pipeline's
// resource model.
const persisterQueueCapacity = 1024

// persisterTask owns the log file handle for a NoWait writer and drains a
// bounded queue of pending batches in FIFO order on its own goroutine,
// retrying each write up to maxRetries times before dropping it.
type persisterTask struct {
	filePath   string
	file       *os.File
	fsyncEvery bool
	logSize    *atomic.Uint64
	maxRetries int
	retryDelay time.Duration

	queue chan []byte
	done  chan struct{}
	wg    sync.WaitGroup

	dropped atomic.Uint64

	flushMu   sync.Mutex
	flushCond *sync.Cond
	pending   int
}

func newPersisterTask(f *os.File, filePath string, fsyncEvery bool, logSize *atomic.Uint64, maxRetries int, retryDelay time.Duration) *persisterTask {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelay <= 0 {
		retryDelay = 50 * time.Millisecond
	}
	p := &persisterTask{
		filePath:   filePath,
		file:       f,
		fsyncEvery: fsyncEvery,
		logSize:    logSize,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
		queue:      make(chan []byte, persisterQueueCapacity),
		done:       make(chan struct{}),
	}
	p.flushCond = sync.NewCond(&p.flushMu)
	p.wg.Add(1)
	go p.run()
	return p
}

func (p *persisterTask) enqueue(batch []byte) {
	p.flushMu.Lock()
	p.pending++
	p.flushMu.Unlock()
	p.queue <- batch
}

func (p *persisterTask) run() {
	defer p.wg.Done()
	for {
		select {
		case batch, ok := <-p.queue:
			if !ok {
				return
			}
			p.persist(batch)
		case <-p.done:
			// Drain whatever is left before exiting.
			for {
				select {
				case batch := <-p.queue:
					p.persist(batch)
				default:
					return
				}
			}
		}
	}
}

func (p *persisterTask) persist(batch []byte) {
	defer func() {
		p.flushMu.Lock()
		p.pending--
		if p.pending == 0 {
			p.flushCond.Broadcast()
		}
		p.flushMu.Unlock()
	}()

	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(p.retryDelay)
		}
		if _, err := p.file.Write(batch); err != nil {
			lastErr = err
			continue
		}
		p.logSize.Add(uint64(len(batch)))
		if p.fsyncEvery {
			if err := p.file.Sync(); err != nil {
				cclog.Warnf("[SEGMENT]> fsync failed for %s: %v", p.filePath, err)
			}
		}
		return
	}

	p.dropped.Add(1)
	cclog.Errorf("[SEGMENT]> dropping batch after %d failed write attempts to %s: %v", p.maxRetries+1, p.filePath, lastErr)
}

// drain blocks until the queue has fully emptied.
func (p *persisterTask) drain() {
	p.flushMu.Lock()
	for p.pending > 0 {
		p.flushCond.Wait()
	}
	p.flushMu.Unlock()
}

func (p *persisterTask) fsync() error {
	return p.file.Sync()
}

// DroppedBatches reports how many batches were discarded after exhausting
// retries, for metrics/diagnostics.
func (p *persisterTask) DroppedBatches() uint64 {
	return p.dropped.Load()
}

func (p *persisterTask) shutdown() {
	p.drain()
	close(p.done)
	p.wg.Wait()
	p.file.Close()
}
