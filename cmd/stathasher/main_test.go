package main

import (
	"io"
	"os"
	"strings"
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

func runWithIO(t *testing.T, configPath, stdin string) string {
	t.Helper()
	inR, inW, err := os.Pipe()
	if err != nil {
		t.Fatalf("Pipe: %v", err)
	}
	outR, outW, err := os.Pipe()
	if err != nil {
		t.Fatalf("Pipe: %v", err)
	}

	go func() {
		inW.WriteString(stdin)
		inW.Close()
	}()

	done := make(chan error, 1)
	go func() { done <- run(configPath, inR, outW) }()

	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
	outW.Close()

	out, err := io.ReadAll(outR)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	return string(out)
}

func TestRunReportsCarbonAndStatsdShards(t *testing.T) {
	path := writeTempConfig(t, `
statsd:
  shard_map:
    0: 127.0.0.1:8126:udp
carbon:
  shard_map:
    0: 127.0.0.1:2003:tcp
`)

	out := runWithIO(t, path, "some.metric.key\n")

	if !strings.HasPrefix(out, "key=some.metric.key") {
		t.Fatalf("unexpected output: %q", out)
	}
	if !strings.Contains(out, "carbon=127.0.0.1/2003/tcp carbon_shard=0") {
		t.Fatalf("expected a carbon shard assignment, got: %q", out)
	}
	if !strings.Contains(out, "statsd=127.0.0.1/8126/udp statsd_shard=0") {
		t.Fatalf("expected a statsd shard assignment, got: %q", out)
	}
}

func TestRunTrimsAtFirstWhitespace(t *testing.T) {
	path := writeTempConfig(t, `
statsd:
  shard_map:
    0: 127.0.0.1:8126:udp
`)

	out := runWithIO(t, path, "some.key extra-junk-after-space\n")

	if !strings.HasPrefix(out, "key=some.key ") {
		t.Fatalf("expected the key to be truncated at the first space, got: %q", out)
	}
}

func TestRunSkipsAbsentProtocol(t *testing.T) {
	path := writeTempConfig(t, `
statsd:
  shard_map:
    0: 127.0.0.1:8126:udp
`)

	out := runWithIO(t, path, "some.key\n")

	if strings.Contains(out, "carbon=") {
		t.Fatalf("did not expect a carbon entry when carbon is unconfigured, got: %q", out)
	}
}
