// Copyright 2019-2021 VMware, Inc.
// SPDX-License-Identifier: BSD-2-Clause

package log

import (
	"fmt"
	"github.com/sirupsen/logrus"
	"io"
	"path"
	"runtime"
	"strings"
)

var Log *Logger

// Logger is a logrus.Logger that tags every entry with the package and file of the caller.
type Logger struct {
	*logrus.Logger
}

func init() {
	Log = &Logger{logrus.New()}
}

// Configure sets the level, the formatter ("text" or "json") and the output of Log.
func Configure(level string, format string, out io.Writer) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	Log.SetLevel(lvl)

	switch strings.ToLower(format) {
	case "", "text":
		Log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		Log.SetFormatter(&logrus.JSONFormatter{})
	default:
		return fmt.Errorf("unknown log format %q", format)
	}

	if out != nil {
		Log.SetOutput(out)
	}
	return nil
}

func (l *Logger) setCommonFields() *logrus.Entry {
	_, file, _, ok := runtime.Caller(2)
	if !ok {
		return logrus.NewEntry(l.Logger)
	}
	return l.WithFields(logrus.Fields{
		"package":  path.Base(path.Dir(file)),
		"fileName": path.Base(file),
	})
}

// WithConnection starts an entry scoped to a single connection.
func (l *Logger) WithConnection(id fmt.Stringer) *logrus.Entry {
	return l.setCommonFields().WithField("connection", id.String())
}

func (l *Logger) Debugf(format string, args ...interface{}) {
	l.setCommonFields().Debugf(format, args...)
}

func (l *Logger) Infof(format string, args ...interface{}) {
	l.setCommonFields().Infof(format, args...)
}

func (l *Logger) Warnf(format string, args ...interface{}) {
	l.setCommonFields().Warnf(format, args...)
}

func (l *Logger) Errorf(format string, args ...interface{}) {
	l.setCommonFields().Errorf(format, args...)
}

func (l *Logger) Infoln(args ...interface{}) {
	l.setCommonFields().Infoln(args...)
}

func (l *Logger) Errorln(args ...interface{}) {
	l.setCommonFields().Errorln(args...)
}

// CronLogger adapts Log to the cron.Logger interface.
type CronLogger struct{}

func (CronLogger) Info(msg string, keysAndValues ...interface{}) {
	Log.WithFields(cronFields(keysAndValues)).Debug(msg)
}

func (CronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	Log.WithFields(cronFields(keysAndValues)).WithError(err).Error(msg)
}

func cronFields(keysAndValues []interface{}) logrus.Fields {
	fields := logrus.Fields{}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return fields
}
