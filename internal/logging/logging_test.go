package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewLevels(t *testing.T) {
	cases := []struct {
		name      string
		verbose   bool
		wantDebug bool
	}{
		{name: "quiet", verbose: false, wantDebug: false},
		{name: "verbose", verbose: true, wantDebug: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger, err := New(&buf, tc.verbose, "text")
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			logger.Debug("debug-line", "cluster", "prod")
			logger.Warn("always")

			out := buf.String()
			if got := strings.Contains(out, "debug-line"); got != tc.wantDebug {
				t.Fatalf("debug logged = %t, want %t: %q", got, tc.wantDebug, out)
			}
			if !strings.Contains(out, "always") {
				t.Fatalf("warn not logged: %q", out)
			}
		})
	}
}

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, false, "JSON")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	logger.Warn("cluster connection failed", "cluster", "dev")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if record["cluster"] != "dev" {
		t.Fatalf("cluster = %v, want dev", record["cluster"])
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := New(&bytes.Buffer{}, false, "xml"); err == nil {
		t.Fatalf("expected error for unknown format")
	}
}
