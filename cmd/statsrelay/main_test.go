package main

import (
	"os"
	"testing"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "statsrelay-*.yaml")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	if _, err := f.WriteString(contents); err != nil {
		t.Fatalf("WriteString: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return f.Name()
}

func TestRunCheckConfigValid(t *testing.T) {
	path := writeTempConfig(t, `
statsd:
  shard_map:
    0: 127.0.0.1:0:udp
`)

	if err := run(path, true, false, "info", "", -1); err != nil {
		t.Fatalf("run with check-config: %v", err)
	}
}

func TestRunCheckConfigInvalidPath(t *testing.T) {
	if err := run("/nonexistent/statsrelay.yaml", true, false, "info", "", -1); err == nil {
		t.Fatal("expected an error for a missing configuration file")
	}
}

func TestRunCheckConfigRejectsUnknownTopLevelKey(t *testing.T) {
	path := writeTempConfig(t, "bogus:\n  bind: 127.0.0.1:1\n")

	if err := run(path, true, false, "info", "", -1); err == nil {
		t.Fatal("expected an error for an unknown top-level configuration key")
	}
}

func TestNewRootCmdRegistersFlags(t *testing.T) {
	cmd := newRootCmd()
	for _, name := range []string{"config", "check-config", "verbose", "log-level", "metrics-bind", "pin-cpu"} {
		if cmd.Flags().Lookup(name) == nil {
			t.Fatalf("expected flag %q to be registered", name)
		}
	}
}
