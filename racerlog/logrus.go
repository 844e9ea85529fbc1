package racerlog

import "github.com/sirupsen/logrus"

// logrusLogger adapts logrus.FieldLogger to Logger, the concrete default
// backend for every RACER binary (§ambient stack).
type logrusLogger struct {
	entry *logrus.Entry
}

// NewLogrus wraps l as a Logger.
func NewLogrus(l *logrus.Logger) Logger {
	return logrusLogger{entry: logrus.NewEntry(l)}
}

func (l logrusLogger) fields(kv []interface{}) logrus.Fields {
	f := make(logrus.Fields, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		f[key] = kv[i+1]
	}
	return f
}

func (l logrusLogger) Debug(msg string, kv ...interface{}) {
	l.entry.WithFields(l.fields(kv)).Debug(msg)
}

func (l logrusLogger) Info(msg string, kv ...interface{}) {
	l.entry.WithFields(l.fields(kv)).Info(msg)
}

func (l logrusLogger) Warn(msg string, kv ...interface{}) {
	l.entry.WithFields(l.fields(kv)).Warn(msg)
}

func (l logrusLogger) Error(msg string, kv ...interface{}) {
	l.entry.WithFields(l.fields(kv)).Error(msg)
}

func (l logrusLogger) With(kv ...interface{}) Logger {
	return logrusLogger{entry: l.entry.WithFields(l.fields(kv))}
}
