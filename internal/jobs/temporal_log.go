package jobs

import (
	"github.com/rotisserie/eris"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/log"
	"go.uber.org/zap"
)

// zapLogger routes Temporal SDK logs to the global zap logger.
type zapLogger struct {
	s *zap.SugaredLogger
}

var _ log.Logger = (*zapLogger)(nil)

// NewTemporalLogger returns a Temporal logger backed by zap.L().
func NewTemporalLogger() log.Logger {
	return &zapLogger{s: zap.L().Sugar().With("component", "temporal")}
}

func (l *zapLogger) Debug(msg string, keyvals ...interface{}) { l.s.Debugw(msg, keyvals...) }
func (l *zapLogger) Info(msg string, keyvals ...interface{})  { l.s.Infow(msg, keyvals...) }
func (l *zapLogger) Warn(msg string, keyvals ...interface{})  { l.s.Warnw(msg, keyvals...) }
func (l *zapLogger) Error(msg string, keyvals ...interface{}) { l.s.Errorw(msg, keyvals...) }

// DialTemporal connects to a Temporal frontend.
func DialTemporal(hostPort, namespace string) (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  hostPort,
		Namespace: namespace,
		Logger:    NewTemporalLogger(),
	})
	if err != nil {
		return nil, eris.Wrapf(err, "jobs: dial temporal %s", hostPort)
	}
	return c, nil
}
