// Package errors provides utilities for error handling in zoltan.
package errors

import (
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
	"go.uber.org/multierr"
)

// DeferClose properly closes an io.Closer with logging.
// Use this in defer statements to avoid suppressing close errors.
func DeferClose(logger zerolog.Logger, closer io.Closer, msg string) {
	if closer == nil {
		return
	}
	if err := closer.Close(); err != nil {
		logger.Warn().Err(err).Msg(msg)
	}
}

// DeferRemove removes a temporary file left behind by a failed write.
// A missing file is not an error.
func DeferRemove(logger zerolog.Logger, path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.Warn().Err(err).Str("path", path).Msg("failed to remove temporary file")
	}
}

// Collector accumulates errors reported by concurrent workers.
// The zero value is ready to use.
type Collector struct {
	mu  sync.Mutex
	err error
}

// Add records err. Nil errors are ignored.
func (c *Collector) Add(err error) {
	if err == nil {
		return
	}
	c.mu.Lock()
	c.err = multierr.Append(c.err, err)
	c.mu.Unlock()
}

// Err returns the combined error, or nil when nothing was recorded.
func (c *Collector) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Errors returns the individual errors in the order they were recorded.
func (c *Collector) Errors() []error {
	return multierr.Errors(c.Err())
}

// Len returns the number of recorded errors.
func (c *Collector) Len() int {
	return len(c.Errors())
}
