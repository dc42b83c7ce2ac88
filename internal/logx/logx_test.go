package logx

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestParseLevelKnown(t *testing.T) {
	cases := map[string]logrus.Level{
		"debug": logrus.DebugLevel,
		"info":  logrus.InfoLevel,
		"warn":  logrus.WarnLevel,
		"error": logrus.ErrorLevel,
	}
	for s, want := range cases {
		assert.Equal(t, want, ParseLevel(s), "ParseLevel(%q)", s)
	}
}

func TestParseLevelUnknownDefaultsToInfo(t *testing.T) {
	assert.Equal(t, logrus.InfoLevel, ParseLevel("bogus"))
}

func TestStderrHookLevelsCoverAll(t *testing.T) {
	h := &stderrHook{pid: 1}
	assert.Len(t, h.Levels(), len(logrus.AllLevels))
}

func TestSyslogHookLevelsExcludeDebugAndTrace(t *testing.T) {
	h := &syslogHook{}
	assert.NotContains(t, h.Levels(), logrus.DebugLevel)
	assert.NotContains(t, h.Levels(), logrus.TraceLevel)
}
