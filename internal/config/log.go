package config

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

type logState struct {
	once   sync.Once
	out    io.Writer
	logger zerolog.Logger
}

// SetLogOutput redirects log output. It must be called before the first Log.
func (c *Config) SetLogOutput(w io.Writer) {
	c.log = &logState{out: w}
}

// Logger returns the zerolog logger built from the logging settings.
func (c *Config) Logger() *zerolog.Logger {
	if c.log == nil {
		c.log = &logState{}
	}
	st := c.log
	st.once.Do(func() {
		out := st.out
		if out == nil {
			out = os.Stderr
		}
		if c.Logging.Format != "json" {
			out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05.000", NoColor: st.out != nil}
		}
		level, err := zerolog.ParseLevel(c.Logging.Level)
		if err != nil || c.Logging.Level == "" {
			level = zerolog.InfoLevel
		}
		if c.Logging.Verbosity > 0 && level > zerolog.DebugLevel {
			level = zerolog.DebugLevel
		}
		st.logger = zerolog.New(out).Level(level).With().Timestamp().Logger()
	})
	return &st.logger
}

// Log logs a formatted message if level is within the configured verbosity.
// Level 0 messages are always logged at info; higher levels log at debug.
func (c *Config) Log(level int, format string, args ...any) {
	if level > c.Logging.Verbosity {
		return
	}
	l := c.Logger()
	ev := l.Info()
	if level > 0 {
		ev = l.Debug()
	}
	ev.Int("v", level).Msg(fmt.Sprintf(format, args...))
}

// Error logs err with an operation name.
func (c *Config) Error(op string, err error) {
	c.Logger().Error().Err(err).Str("op", op).Send()
}
