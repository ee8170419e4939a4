// Package router fans value changes out to the store, publish and console sinks.
package router

import (
	"context"
	"log/slog"
	"sync"

	"github.com/milanorszagh/evon-smart-home-homeassistant-integration-sub001/internal/buffer"
	"github.com/milanorszagh/evon-smart-home-homeassistant-integration-sub001/internal/model"
)

// Router copies each value change into one buffer per enabled sink.
type Router interface {
	// Start begins routing changes from the input buffer to sink buffers.
	Start(ctx context.Context) error

	// Stop drains the input, then closes every sink buffer.
	Stop(ctx context.Context) error

	// Accept enqueues a change without blocking. Its method value is usable
	// as a subscription handler.
	Accept(change model.ValueChange)

	// Buffers returns output buffers for sinks to consume.
	Buffers() RouterBuffers

	// Stats returns current router statistics.
	Stats() RouterStats
}

// RouterBuffers provides access to sink buffers. Disabled sinks are nil.
type RouterBuffers struct {
	Store   *buffer.Growable[model.ValueChange]
	Publish *buffer.Growable[model.ValueChange]
	Console *buffer.Growable[model.ValueChange]
}

// router is the internal implementation.
type router struct {
	cfg    RouterConfig
	logger *slog.Logger

	input *buffer.Growable[model.ValueChange]

	storeBuf   *buffer.Growable[model.ValueChange]
	publishBuf *buffer.Growable[model.ValueChange]
	consoleBuf *buffer.Growable[model.ValueChange]

	wg sync.WaitGroup

	mu       sync.RWMutex
	received int64
	routed   int64
	skipped  int64
}

// NewRouter creates a new change router.
func NewRouter(cfg RouterConfig, logger *slog.Logger) Router {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BufferSize < 1 {
		cfg.BufferSize = DefaultRouterConfig().BufferSize
	}

	r := &router{
		cfg:    cfg,
		logger: logger.With("component", "router"),
		input:  buffer.NewGrowable[model.ValueChange](cfg.BufferSize),
	}
	if cfg.StoreEnabled {
		r.storeBuf = buffer.NewGrowable[model.ValueChange](cfg.BufferSize)
	}
	if cfg.PublishEnabled {
		r.publishBuf = buffer.NewGrowable[model.ValueChange](cfg.BufferSize)
	}
	if cfg.ConsoleEnabled {
		r.consoleBuf = buffer.NewGrowable[model.ValueChange](cfg.BufferSize)
	}
	return r
}

// Start begins routing changes.
func (r *router) Start(ctx context.Context) error {
	r.wg.Add(1)
	go r.routeLoop()

	r.logger.Info("change router started",
		"store", r.storeBuf != nil,
		"publish", r.publishBuf != nil,
		"console", r.consoleBuf != nil,
		"skip_initial", r.cfg.SkipInitial,
	)

	return nil
}

// Stop gracefully shuts down the router.
func (r *router) Stop(ctx context.Context) error {
	r.logger.Info("stopping change router")

	r.input.Close()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("change router stopped")
	case <-ctx.Done():
		r.logger.Warn("change router stop timed out", "pending", r.input.Len())
	}

	for _, b := range r.outputs() {
		b.Close()
	}

	return nil
}

// Accept enqueues a change for routing.
func (r *router) Accept(change model.ValueChange) {
	if !r.input.Send(change) {
		r.logger.Debug("router stopped, dropping change", "key", change.Key())
	}
}

// Buffers returns output buffers for sinks.
func (r *router) Buffers() RouterBuffers {
	return RouterBuffers{
		Store:   r.storeBuf,
		Publish: r.publishBuf,
		Console: r.consoleBuf,
	}
}

// Stats returns current statistics.
func (r *router) Stats() RouterStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := RouterStats{
		ChangesReceived: r.received,
		ChangesRouted:   r.routed,
		SkippedInitial:  r.skipped,
		InputBuffer:     r.input.Stats(),
	}
	if r.storeBuf != nil {
		stats.StoreBuffer = r.storeBuf.Stats()
	}
	if r.publishBuf != nil {
		stats.PublishBuffer = r.publishBuf.Stats()
	}
	if r.consoleBuf != nil {
		stats.ConsoleBuffer = r.consoleBuf.Stats()
	}
	return stats
}

// routeLoop runs until the input is closed and drained.
func (r *router) routeLoop() {
	defer r.wg.Done()

	for {
		change, ok := r.input.Receive()
		if !ok {
			return
		}
		r.route(change)
	}
}

// route copies a single change into every sink buffer.
func (r *router) route(change model.ValueChange) {
	r.mu.Lock()
	r.received++
	r.mu.Unlock()

	if r.cfg.SkipInitial && change.IsInitial() {
		r.mu.Lock()
		r.skipped++
		r.mu.Unlock()
		return
	}

	var sent int64
	for _, b := range r.outputs() {
		if b.Send(change) {
			sent++
		}
	}

	r.mu.Lock()
	r.routed += sent
	r.mu.Unlock()
}

func (r *router) outputs() []*buffer.Growable[model.ValueChange] {
	out := make([]*buffer.Growable[model.ValueChange], 0, 3)
	for _, b := range []*buffer.Growable[model.ValueChange]{r.storeBuf, r.publishBuf, r.consoleBuf} {
		if b != nil {
			out = append(out, b)
		}
	}
	return out
}
