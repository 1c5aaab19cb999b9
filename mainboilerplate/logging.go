package mainboilerplate

import (
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// LogConfig configures handling of the daemon's own log events, which are
// distinct from the messages it stores.
type LogConfig struct {
	Level  string `long:"level" env:"LEVEL" default:"info" choice:"trace" choice:"debug" choice:"info" choice:"warn" choice:"error" choice:"fatal" description:"Logging level"`
	Format string `long:"format" env:"FORMAT" default:"text" choice:"json" choice:"text" choice:"color" description:"Logging output format"`
	Caller bool   `long:"caller" env:"CALLER" description:"Annotate log events with the calling function and file"`
}

// Log events are stamped in RFC 3339 with millisecond precision.
const logTimestampFormat = "2006-01-02T15:04:05.000Z07:00"

// InitLog configures the logger, and is fatal if |cfg| is invalid.
func InitLog(cfg LogConfig) {
	var formatter, level, err = parseLogConfig(cfg)
	if err != nil {
		log.WithField("err", err).Fatal("invalid log configuration")
	}
	log.SetFormatter(utcFormatter{formatter})
	log.SetLevel(level)
	log.SetReportCaller(cfg.Caller)
}

func parseLogConfig(cfg LogConfig) (log.Formatter, log.Level, error) {
	var formatter log.Formatter

	switch cfg.Format {
	case "json":
		formatter = &log.JSONFormatter{TimestampFormat: logTimestampFormat}
	case "text", "":
		formatter = &log.TextFormatter{FullTimestamp: true, TimestampFormat: logTimestampFormat}
	case "color":
		formatter = &log.TextFormatter{FullTimestamp: true, TimestampFormat: logTimestampFormat, ForceColors: true}
	default:
		return nil, 0, errors.Errorf("unrecognized log format %q", cfg.Format)
	}

	var level, err = log.ParseLevel(cfg.Level)
	if err != nil {
		return nil, 0, errors.Wrap(err, "parsing log level")
	}
	return formatter, level, nil
}

// utcFormatter renders each event with its time in UTC.
type utcFormatter struct{ log.Formatter }

func (f utcFormatter) Format(e *log.Entry) ([]byte, error) {
	var c = *e
	c.Time = e.Time.In(time.UTC)
	return f.Formatter.Format(&c)
}
