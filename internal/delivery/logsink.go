package delivery

import (
	"context"

	"notifyd/internal/notify"
	"notifyd/pkg/logx"
)

// LogSink writes delivered notifications to the structured log. It is
// the default sink and always succeeds.
type LogSink struct {
	log logx.Logger
}

func NewLogSink(log logx.Logger) *LogSink {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &LogSink{log: log}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Deliver(_ context.Context, n notify.Notification) error {
	fields := []logx.Field{
		logx.Int("id", int(n.ID)),
		logx.String("title", n.Title),
	}
	if n.Body != "" {
		fields = append(fields, logx.String("body", n.Body))
	}
	if n.ChannelID != "" {
		fields = append(fields, logx.String("channel", n.ChannelID))
	}
	if n.Group != "" {
		fields = append(fields, logx.String("group", n.Group))
	}
	s.log.Info("notification", fields...)
	return nil
}
