package alert

import (
	"go.uber.org/zap"

	"price-dashboard/infrastructure/logger"
)

// LogChannel 把告警写入结构化日志
type LogChannel struct {
	name string
	log  *logger.Logger
}

func NewLogChannel(name string, log *logger.Logger) *LogChannel {
	if log == nil {
		log = logger.NewNop()
	}
	return &LogChannel{name: name, log: log}
}

func (c *LogChannel) Send(a Alert) error {
	fields := []zap.Field{
		zap.String("level", string(a.Level)),
		zap.String("key", a.Key),
		zap.Time("at", a.Timestamp),
	}
	for k, v := range a.Fields {
		fields = append(fields, zap.Any(k, v))
	}
	switch a.Level {
	case LevelCritical, LevelError:
		c.log.Error("alert: "+a.Message, fields...)
	case LevelWarning:
		c.log.Warn("alert: "+a.Message, fields...)
	default:
		c.log.Info("alert: "+a.Message, fields...)
	}
	return nil
}

func (c *LogChannel) Name() string {
	return c.name
}
