// Package middleware carries the HTTP cross-cutting pieces: concurrency
// limiting, caller API key auth, and request logging.
package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// ConcurrencyLimiter bounds in-flight requests with a weighted semaphore.
// Each admitted request also gets the request deadline on its context so a
// backend feed that never emits a terminal state cannot pin a slot forever.
type ConcurrencyLimiter struct {
	sem            *semaphore.Weighted
	maxConcurrent  int64
	waitTimeout    time.Duration
	requestTimeout time.Duration
	activeCount    int64
	totalReqs      int64
	rejectedReqs   int64
}

const maxSlotWait = 60 * time.Second

func NewConcurrencyLimiter(maxConcurrent int, waitTimeout, requestTimeout time.Duration) *ConcurrencyLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = 100
	}
	if waitTimeout <= 0 {
		waitTimeout = 120 * time.Second
	}
	if requestTimeout <= 0 {
		requestTimeout = 600 * time.Second
	}
	return &ConcurrencyLimiter{
		sem:            semaphore.NewWeighted(int64(maxConcurrent)),
		maxConcurrent:  int64(maxConcurrent),
		waitTimeout:    waitTimeout,
		requestTimeout: requestTimeout,
	}
}

func (cl *ConcurrencyLimiter) Limit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&cl.totalReqs, 1)

		waitTimeout := maxSlotWait
		if cl.waitTimeout < waitTimeout {
			waitTimeout = cl.waitTimeout
		}

		waitCtx, cancelWait := context.WithTimeout(r.Context(), waitTimeout)
		defer cancelWait()

		acquireStart := time.Now()
		if err := cl.sem.Acquire(waitCtx, 1); err != nil {
			atomic.AddInt64(&cl.rejectedReqs, 1)
			slog.Warn("concurrency limit: wait timeout",
				"duration", time.Since(acquireStart),
				"total_rejected", atomic.LoadInt64(&cl.rejectedReqs),
				"wait_timeout", waitTimeout)
			http.Error(w, "Server busy, request timed out waiting for a worker slot", http.StatusServiceUnavailable)
			return
		}

		atomic.AddInt64(&cl.activeCount, 1)
		reqStart := time.Now()

		defer func() {
			cl.sem.Release(1)
			atomic.AddInt64(&cl.activeCount, -1)
			slog.Debug("concurrency limit: slot released",
				"active", atomic.LoadInt64(&cl.activeCount),
				"duration", time.Since(reqStart))
		}()

		execCtx, cancelExec := context.WithTimeout(r.Context(), cl.requestTimeout)
		defer cancelExec()

		next.ServeHTTP(w, r.WithContext(execCtx))
	}
}

// Active reports the number of requests currently holding a slot.
func (cl *ConcurrencyLimiter) Active() int64 {
	return atomic.LoadInt64(&cl.activeCount)
}
