package service

import (
	"context"
	"sync"
	"time"

	"github.com/kjstillabower/weather-forecast-app/internal/models"
)

// inFlightRequest is one upstream fetch that several callers may wait on.
type inFlightRequest struct {
	done   chan struct{}
	result models.ForecastResponse
	err    error
}

// requestCoalescer collapses concurrent misses for the same key into a single upstream call.
type requestCoalescer struct {
	mu       sync.Mutex
	inFlight map[string]*inFlightRequest
	timeout  time.Duration
}

func newRequestCoalescer(timeout time.Duration) *requestCoalescer {
	return &requestCoalescer{
		inFlight: make(map[string]*inFlightRequest),
		timeout:  timeout,
	}
}

// GetOrDo runs fn for key unless a call for key is already running, in which case it waits
// for that call's result. shared reports whether the result came from another caller's call.
// fn runs detached from the caller's cancellation so one caller giving up does not fail
// the others; every caller's wait is bounded by ctx and the coalescer timeout.
func (rc *requestCoalescer) GetOrDo(ctx context.Context, key string, fn func(context.Context) (models.ForecastResponse, error)) (result models.ForecastResponse, shared bool, err error) {
	rc.mu.Lock()
	req, exists := rc.inFlight[key]
	if !exists {
		req = &inFlightRequest{done: make(chan struct{})}
		rc.inFlight[key] = req
	}
	rc.mu.Unlock()

	if !exists {
		fnCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rc.timeout)
		go func() {
			defer cancel()
			req.result, req.err = fn(fnCtx)
			rc.cleanup(key)
			close(req.done)
		}()
	}

	waitCtx, cancel := context.WithTimeout(ctx, rc.timeout)
	defer cancel()
	select {
	case <-req.done:
		if req.err != nil {
			return models.ForecastResponse{}, exists, req.err
		}
		return req.result, exists, nil
	case <-waitCtx.Done():
		return models.ForecastResponse{}, exists, waitCtx.Err()
	}
}

// inFlightCount returns the number of keys with a running upstream call.
func (rc *requestCoalescer) inFlightCount() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return len(rc.inFlight)
}

func (rc *requestCoalescer) cleanup(key string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	delete(rc.inFlight, key)
}
