package jobs

import (
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

type asynqLogger struct{ log zerolog.Logger }

// NewAsynqLogger routes asynq's own logging through l.
func NewAsynqLogger(l zerolog.Logger) asynq.Logger { return asynqLogger{log: l} }

func (a asynqLogger) Debug(args ...interface{}) { a.log.Debug().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Info(args ...interface{})  { a.log.Info().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Warn(args ...interface{})  { a.log.Warn().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Error(args ...interface{}) { a.log.Error().Msg(fmt.Sprint(args...)) }
func (a asynqLogger) Fatal(args ...interface{}) { a.log.Fatal().Msg(fmt.Sprint(args...)) }
