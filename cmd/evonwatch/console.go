package main

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/milanorszagh/evon-smart-home-homeassistant-integration-sub001/internal/buffer"
	"github.com/milanorszagh/evon-smart-home-homeassistant-integration-sub001/internal/model"
)

// consoleSink prints one line per change until its buffer is closed.
type consoleSink struct {
	out   io.Writer
	input *buffer.Growable[model.ValueChange]
	done  chan struct{}

	mu      sync.Mutex
	printed int64
}

func newConsoleSink(out io.Writer, input *buffer.Growable[model.ValueChange]) *consoleSink {
	return &consoleSink{out: out, input: input, done: make(chan struct{})}
}

func (c *consoleSink) Start(ctx context.Context) error {
	go c.printLoop()
	return nil
}

func (c *consoleSink) Stop(ctx context.Context) error {
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type consoleStats struct {
	Printed int64 `json:"printed"`
}

func (c *consoleSink) Stats() consoleStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return consoleStats{Printed: c.printed}
}

func (c *consoleSink) printLoop() {
	defer close(c.done)
	for {
		change, ok := c.input.Receive()
		if !ok {
			return
		}
		fmt.Fprintln(c.out, formatChange(change))

		c.mu.Lock()
		c.printed++
		c.mu.Unlock()
	}
}

// formatChange renders "15:04:05.000 <id>.<prop> = <value> (<reason>)".
func formatChange(change model.ValueChange) string {
	value := string(change.Value)
	if value == "" {
		value = "null"
	}
	return fmt.Sprintf("%s %s = %s (%s)",
		change.ReceivedAt.Format("15:04:05.000"), change.Key(), value, change.SetReason)
}
