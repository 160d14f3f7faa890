package rtc

import (
	"fmt"

	"github.com/pion/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// zerologFactory routes pion's internal logging into the global zerolog
// logger so ICE and DTLS chatter obeys the configured level.
type zerologFactory struct{}

func (zerologFactory) NewLogger(scope string) logging.LeveledLogger {
	return &zerologLogger{l: log.With().Str("module", "pion").Str("scope", scope).Logger()}
}

type zerologLogger struct {
	l zerolog.Logger
}

func (z *zerologLogger) Trace(msg string)                  { z.l.Trace().Msg(msg) }
func (z *zerologLogger) Tracef(format string, args ...any) { z.l.Trace().Msg(fmt.Sprintf(format, args...)) }
func (z *zerologLogger) Debug(msg string)                  { z.l.Debug().Msg(msg) }
func (z *zerologLogger) Debugf(format string, args ...any) { z.l.Debug().Msg(fmt.Sprintf(format, args...)) }
func (z *zerologLogger) Info(msg string)                   { z.l.Info().Msg(msg) }
func (z *zerologLogger) Infof(format string, args ...any)  { z.l.Info().Msg(fmt.Sprintf(format, args...)) }
func (z *zerologLogger) Warn(msg string)                   { z.l.Warn().Msg(msg) }
func (z *zerologLogger) Warnf(format string, args ...any)  { z.l.Warn().Msg(fmt.Sprintf(format, args...)) }
func (z *zerologLogger) Error(msg string)                  { z.l.Error().Msg(msg) }
func (z *zerologLogger) Errorf(format string, args ...any) { z.l.Error().Msg(fmt.Sprintf(format, args...)) }
