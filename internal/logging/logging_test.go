package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/taskledger/taskledger/internal/ledger"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   LevelDebug,
		"info":    LevelInfo,
		"warn":    LevelWarn,
		"warning": LevelWarn,
		"ERROR":   LevelError,
		"":        LevelInfo,
		"bogus":   LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q): got %v, want %v", in, got, want)
		}
	}
}

func TestLogger_LevelGate(t *testing.T) {
	var buf bytes.Buffer
	lg := New(&buf, LevelWarn)

	lg.Debugf("hidden detail")
	lg.Infof("hidden progress")
	lg.Warnf("disk slow path=%s", "entries")
	lg.Errorf("write failed")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("suppressed levels leaked: %q", out)
	}
	if !strings.Contains(out, "WARN disk slow path=entries") {
		t.Errorf("warn line missing: %q", out)
	}
	if !strings.Contains(out, "ERROR write failed") {
		t.Errorf("error line missing: %q", out)
	}
}

func TestLogger_PrinterFollowsLevel(t *testing.T) {
	var buf bytes.Buffer

	New(&buf, LevelInfo).Printer().Printf("component line")
	if !strings.Contains(buf.String(), "component line") {
		t.Errorf("info-level printer dropped output: %q", buf.String())
	}

	buf.Reset()
	New(&buf, LevelError).Printer().Printf("component line")
	if buf.Len() != 0 {
		t.Errorf("error-level printer wrote output: %q", buf.String())
	}
}

func TestOpen_AppendsToLogsDir(t *testing.T) {
	root := t.TempDir()

	lg, err := Open(root, LevelInfo)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	lg.Infof("first run")
	if err := lg.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	lg, err = Open(root, LevelInfo)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	lg.Infof("second run")
	if err := lg.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(root, ledger.LogsDirName, LogFileName))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "first run") || !strings.Contains(string(data), "second run") {
		t.Errorf("log not appended across opens: %q", string(data))
	}
}
