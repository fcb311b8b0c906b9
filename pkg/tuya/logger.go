package tuya

import "github.com/pion/logging"

// deviceLogger prefixes every line with a shortened device id and drops
// trace and debug output unless enabled.
type deviceLogger struct {
	log    logging.LeveledLogger
	prefix string
	debug  bool
}

// newDeviceLogger returns nil when factory is nil so callers can keep the
// usual nil check.
func newDeviceLogger(factory logging.LoggerFactory, scope, deviceID string, debug bool) logging.LeveledLogger {
	if factory == nil {
		return nil
	}
	return &deviceLogger{
		log:    factory.NewLogger(scope),
		prefix: "[" + shortID(deviceID) + "] ",
		debug:  debug,
	}
}

// shortID keeps the first and last three characters of id.
func shortID(id string) string {
	if len(id) <= 6 {
		return id
	}
	return id[:3] + "..." + id[len(id)-3:]
}

func (l *deviceLogger) Trace(msg string) {
	if l.debug {
		l.log.Trace(l.prefix + msg)
	}
}

func (l *deviceLogger) Tracef(format string, args ...any) {
	if l.debug {
		l.log.Tracef(l.prefix+format, args...)
	}
}

func (l *deviceLogger) Debug(msg string) {
	if l.debug {
		l.log.Debug(l.prefix + msg)
	}
}

func (l *deviceLogger) Debugf(format string, args ...any) {
	if l.debug {
		l.log.Debugf(l.prefix+format, args...)
	}
}

func (l *deviceLogger) Info(msg string) { l.log.Info(l.prefix + msg) }

func (l *deviceLogger) Infof(format string, args ...any) { l.log.Infof(l.prefix+format, args...) }

func (l *deviceLogger) Warn(msg string) { l.log.Warn(l.prefix + msg) }

func (l *deviceLogger) Warnf(format string, args ...any) { l.log.Warnf(l.prefix+format, args...) }

func (l *deviceLogger) Error(msg string) { l.log.Error(l.prefix + msg) }

func (l *deviceLogger) Errorf(format string, args ...any) { l.log.Errorf(l.prefix+format, args...) }
