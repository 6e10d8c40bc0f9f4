package klend

import (
	"io"
	"time"

	"github.com/DomeLiquid/klend/core"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

var _ core.Log = (*zerolog.Logger)(nil)

// NewLogger writes human readable lines to w. An empty level means info.
func NewLogger(w io.Writer, level string) (*zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return nil, errors.Wrapf(err, "log level %q", level)
	}
	if lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	logger := zerolog.New(zerolog.ConsoleWriter{Out: w, NoColor: true, TimeFormat: time.RFC3339}).
		Level(lvl).
		With().
		Timestamp().
		Logger()
	return &logger, nil
}

func nopLog() core.Log {
	l := zerolog.Nop()
	return &l
}
