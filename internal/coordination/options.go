package coordination

import (
	"time"

	"github.com/spf13/afero"

	"github.com/Iron-Ham/runboard/internal/logging"
)

// contextConfig holds optional configuration for a Context.
type contextConfig struct {
	fs     afero.Fs
	now    func() time.Time
	logger *logging.Logger
}

// Option configures a Context.
type Option func(*contextConfig)

// WithFs sets the filesystem of the store. Defaults to the OS filesystem.
func WithFs(fs afero.Fs) Option {
	return func(c *contextConfig) { c.fs = fs }
}

// WithClock sets the time source shared by every component.
func WithClock(now func() time.Time) Option {
	return func(c *contextConfig) { c.now = now }
}

// WithLogger replaces the logger built from the logging settings. The
// Context does not close a logger it did not create.
func WithLogger(logger *logging.Logger) Option {
	return func(c *contextConfig) { c.logger = logger }
}
