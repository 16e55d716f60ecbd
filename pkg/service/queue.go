// Copyright 2025 Antfly, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// Modified from github.com/antflydb/termite pkg/termite/queue.go for
// caption uploads.

package service

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/menta2k/image-captioner/internal/metrics"
)

var (
	// ErrQueueFull is returned when every inference slot is busy and the
	// wait queue is at capacity.
	ErrQueueFull = errors.New("request queue is full")

	// ErrRequestTimeout is returned when a request waits longer than the
	// configured timeout for an inference slot.
	ErrRequestTimeout = errors.New("request timeout exceeded")
)

// QueueConfig bounds concurrent caption generation.
type QueueConfig struct {
	MaxConcurrent  int           // 0 = unlimited
	MaxQueue       int           // 0 = unlimited waiters
	RequestTimeout time.Duration // 0 = wait forever
}

// RequestQueue admits uploads into the caption pipeline. At most
// MaxConcurrent decodes run at once; further requests wait, up to MaxQueue
// of them, and are turned away beyond that.
type RequestQueue struct {
	maxConcurrent int64
	maxQueue      int64
	timeout       time.Duration

	sem chan struct{}

	active    atomic.Int64
	queued    atomic.Int64
	processed atomic.Int64
	rejected  atomic.Int64
	timedOut  atomic.Int64

	logger *zap.Logger
}

// NewRequestQueue creates a queue. A zero MaxConcurrent disables limiting.
func NewRequestQueue(cfg QueueConfig, logger *zap.Logger) *RequestQueue {
	if logger == nil {
		logger = zap.NewNop()
	}

	q := &RequestQueue{
		maxConcurrent: int64(cfg.MaxConcurrent),
		maxQueue:      int64(cfg.MaxQueue),
		timeout:       cfg.RequestTimeout,
		logger:        logger,
	}
	if cfg.MaxConcurrent > 0 {
		q.sem = make(chan struct{}, cfg.MaxConcurrent)
		logger.Info("Request queue initialized",
			zap.Int("max_concurrent", cfg.MaxConcurrent),
			zap.Int("max_queue", cfg.MaxQueue),
			zap.Duration("timeout", cfg.RequestTimeout))
	}
	return q
}

// Acquire blocks until a slot is free. The returned release function must
// be called exactly once when the request is done.
func (q *RequestQueue) Acquire(ctx context.Context) (release func(), err error) {
	if q.sem == nil {
		q.active.Add(1)
		q.publish()
		return q.makeRelease(false), nil
	}

	if q.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.timeout)
		defer cancel()
	}

	select {
	case q.sem <- struct{}{}:
		q.active.Add(1)
		q.publish()
		return q.makeRelease(true), nil
	default:
	}

	// Reserve a waiting slot with CAS so concurrent callers cannot overshoot.
	if q.maxQueue > 0 {
		for {
			n := q.queued.Load()
			if n >= q.maxQueue {
				q.rejected.Add(1)
				metrics.RecordQueueRejection()
				q.logger.Warn("Request rejected: queue full",
					zap.Int64("queued", n),
					zap.Int64("max_queue", q.maxQueue))
				return nil, ErrQueueFull
			}
			if q.queued.CompareAndSwap(n, n+1) {
				break
			}
		}
	} else {
		q.queued.Add(1)
	}
	q.publish()
	waitStart := time.Now()

	select {
	case q.sem <- struct{}{}:
		q.queued.Add(-1)
		q.active.Add(1)
		q.publish()
		q.logger.Debug("Request dequeued", zap.Duration("wait_time", time.Since(waitStart)))
		return q.makeRelease(true), nil

	case <-ctx.Done():
		q.queued.Add(-1)
		q.publish()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			q.timedOut.Add(1)
			metrics.RecordQueueTimeout()
			q.logger.Warn("Request timed out in queue",
				zap.Duration("wait_time", time.Since(waitStart)),
				zap.Duration("timeout", q.timeout))
			return nil, ErrRequestTimeout
		}
		return nil, ctx.Err()
	}
}

func (q *RequestQueue) makeRelease(limited bool) func() {
	var once atomic.Bool
	return func() {
		if !once.CompareAndSwap(false, true) {
			return
		}
		q.active.Add(-1)
		q.processed.Add(1)
		if limited {
			<-q.sem
		}
		q.publish()
	}
}

func (q *RequestQueue) publish() {
	metrics.UpdateQueue(q.queued.Load(), q.active.Load())
}

// Stats returns current queue statistics
func (q *RequestQueue) Stats() QueueStats {
	return QueueStats{
		Active:        q.active.Load(),
		Queued:        q.queued.Load(),
		Processed:     q.processed.Load(),
		Rejected:      q.rejected.Load(),
		TimedOut:      q.timedOut.Load(),
		MaxConcurrent: q.maxConcurrent,
		MaxQueue:      q.maxQueue,
	}
}

// QueueStats holds queue statistics
type QueueStats struct {
	Active        int64 `json:"active"`
	Queued        int64 `json:"queued"`
	Processed     int64 `json:"processed"`
	Rejected      int64 `json:"rejected"`
	TimedOut      int64 `json:"timed_out"`
	MaxConcurrent int64 `json:"max_concurrent"`
	MaxQueue      int64 `json:"max_queue"`
}

// IsEnabled reports whether concurrency limiting is on
func (q *RequestQueue) IsEnabled() bool {
	return q.sem != nil
}

// writeQueueFull answers 503 with a Retry-After hint.
func writeQueueFull(w http.ResponseWriter, retryAfter time.Duration) {
	w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
	writeError(w, http.StatusServiceUnavailable, "Server is busy, please retry later")
}

func writeTimeout(w http.ResponseWriter) {
	writeError(w, http.StatusGatewayTimeout, "Request timed out waiting for a free worker")
}
