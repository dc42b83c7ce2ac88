// Package logx builds the relay's logrus logger: syslog at info-and-above
// plus an optional stderr mirror gated on verbose mode, matching the
// reference implementation's stats_log/stats_log_verbose behavior.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package logx

import (
	"fmt"
	"log/syslog"
	"os"

	"github.com/sirupsen/logrus"
)

// levels maps the CLI's --log-level strings onto logrus levels.
var levels = map[string]logrus.Level{
	"debug": logrus.DebugLevel,
	"info":  logrus.InfoLevel,
	"warn":  logrus.WarnLevel,
	"error": logrus.ErrorLevel,
}

// ParseLevel resolves a --log-level string, falling back to info for an
// unrecognized value.
func ParseLevel(s string) logrus.Level {
	if l, ok := levels[s]; ok {
		return l
	}
	return logrus.InfoLevel
}

// New builds a logger writing to syslog at info severity and above. When
// verbose is true (or level is debug, which implies verbose) every entry
// is mirrored to stderr prefixed with the process pid, matching the
// reference implementation's dual-destination logging.
func New(level logrus.Level, verbose bool) (*logrus.Logger, error) {
	if level == logrus.DebugLevel {
		verbose = true
	}

	log := logrus.New()
	log.SetLevel(level)
	log.SetOutput(discard{})
	log.SetFormatter(&logrus.TextFormatter{DisableColors: true, FullTimestamp: true})

	hook, err := newSyslogHook()
	if err != nil {
		return nil, fmt.Errorf("logx: connecting to syslog: %w", err)
	}
	log.AddHook(hook)

	if verbose {
		log.AddHook(&stderrHook{pid: os.Getpid()})
	}
	return log, nil
}

// discard satisfies io.Writer while routing everything through hooks
// instead of the logger's default output stream.
type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

// syslogHook delivers every entry at logrus.InfoLevel and above to the
// local syslog daemon.
type syslogHook struct {
	w *syslog.Writer
}

func newSyslogHook() (*syslogHook, error) {
	w, err := syslog.New(syslog.LOG_INFO|syslog.LOG_DAEMON, "statsrelay")
	if err != nil {
		return nil, err
	}
	return &syslogHook{w: w}, nil
}

func (h *syslogHook) Levels() []logrus.Level {
	return []logrus.Level{
		logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel,
		logrus.WarnLevel, logrus.InfoLevel,
	}
}

func (h *syslogHook) Fire(e *logrus.Entry) error {
	line, err := e.String()
	if err != nil {
		return err
	}
	switch e.Level {
	case logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel:
		return h.w.Err(line)
	case logrus.WarnLevel:
		return h.w.Warning(line)
	default:
		return h.w.Info(line)
	}
}

// stderrHook mirrors every entry to stderr with a pid prefix, active only
// when verbose logging is requested.
type stderrHook struct {
	pid int
}

func (h *stderrHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *stderrHook) Fire(e *logrus.Entry) error {
	line, err := e.String()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(os.Stderr, "%d %s", h.pid, line)
	return err
}
