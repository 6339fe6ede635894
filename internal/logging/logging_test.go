package logging

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLogEventFormat(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(os.Stdout)

	LogEvent("LINK", "CONNECTED", "address=192.0.2.10")

	got := buf.String()
	if !strings.HasPrefix(got, "[IRBRIDGE] ") {
		t.Errorf("missing prefix: %q", got)
	}
	if !strings.Contains(got, "[LINK] CONNECTED: address=192.0.2.10") {
		t.Errorf("unexpected entry: %q", got)
	}
	if Writer() != &buf {
		t.Error("Writer() should return the active sink")
	}
}

func TestInitWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "irbridge.log")
	if err := Init(path); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	LogEvent("TEST", "EVENT", "to-file")
	Close()
	defer SetOutput(os.Stdout)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "[TEST] EVENT: to-file") {
		t.Errorf("log file missing entry: %q", data)
	}
}

func TestInitFallsBackToStdout(t *testing.T) {
	err := Init(filepath.Join(t.TempDir(), "missing-dir", "irbridge.log"))
	defer SetOutput(os.Stdout)
	if err == nil {
		t.Fatal("expected error for unwritable log path")
	}
	if Writer() != os.Stdout {
		t.Error("expected stdout-only logging after open failure")
	}
}

type failWriter struct{}

func (failWriter) Write(p []byte) (int, error) { return 0, errors.New("disk full") }

func TestDualWriterIgnoresFileErrors(t *testing.T) {
	var stdout bytes.Buffer
	w := &dualWriter{stdout: &stdout, file: failWriter{}}
	n, err := w.Write([]byte("line\n"))
	if err != nil || n != 5 {
		t.Errorf("Write() = %d, %v; want 5, nil", n, err)
	}
	if stdout.String() != "line\n" {
		t.Errorf("stdout = %q", stdout.String())
	}
}
