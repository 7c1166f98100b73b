// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Shorebound Contributors

// Package cache implements the write-back caches that keep inventory
// and player statistics authoritative in memory while batching
// persistence. Mutations never wait on the store; dirty entries are
// flushed on a timer, and a failed flush keeps its delta for the next
// tick.
package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// autoFlusher drives the periodic flush shared by both cache
// instantiations. Start and Stop are idempotent.
type autoFlusher struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func (f *autoFlusher) start(name string, interval time.Duration, flush func(context.Context) error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	f.done = make(chan struct{})

	go func() {
		defer close(f.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := flush(ctx); err != nil {
					slog.Error("cache flush failed, deltas retained",
						"cache", name,
						"error", err,
					)
				}
			}
		}
	}()
}

func (f *autoFlusher) stop() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.cancel == nil {
		return
	}
	f.cancel()
	<-f.done
	f.cancel = nil
	f.done = nil
}
