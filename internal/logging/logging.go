package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
)

const (
	DefaultLogFilePath = "/var/log/irbridge.log"
	prefix             = "[IRBRIDGE] "
)

var (
	logger  *log.Logger
	logFile *os.File
	out     io.Writer = os.Stdout
	logMu   sync.Mutex
)

// Init sets up logging to stdout and, when path is non-empty, to an
// append-mode log file.  Calling Init again replaces the previous sinks.
func Init(path string) error {
	logMu.Lock()
	defer logMu.Unlock()

	if logFile != nil {
		logFile.Close()
		logFile = nil
	}

	var w io.Writer = os.Stdout
	var openErr error
	if path != "" {
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			openErr = fmt.Errorf("could not open %s (using stdout only): %w", path, err)
		} else {
			logFile = f
			w = &dualWriter{stdout: os.Stdout, file: f}
		}
	}

	setOutputLocked(w)
	logger.Println("Logging subsystem initialized.")
	return openErr
}

// SetOutput redirects every log line to w.  Tests use it to capture output.
func SetOutput(w io.Writer) {
	logMu.Lock()
	defer logMu.Unlock()
	setOutputLocked(w)
}

func setOutputLocked(w io.Writer) {
	out = w
	logger = log.New(w, prefix, log.LstdFlags)
	log.SetOutput(w)
	log.SetPrefix(prefix)
}

// Writer returns the active log sink for multi-line diagnostics such as raw
// IR capture dumps.
func Writer() io.Writer {
	logMu.Lock()
	defer logMu.Unlock()
	return out
}

// LogEvent logs a lifecycle event as "[MODULE] EVENT: details".
func LogEvent(module string, event string, details string) {
	logMu.Lock()
	defer logMu.Unlock()

	entry := fmt.Sprintf("[%s] %s: %s", module, event, details)

	if logger != nil {
		logger.Println(entry)
	} else {
		log.Println(entry)
	}
}

// Close cleanly closes the log file
func Close() {
	logMu.Lock()
	defer logMu.Unlock()
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
}

// dualWriter writes to both stdout and the log file
type dualWriter struct {
	stdout io.Writer
	file   io.Writer
}

func (w *dualWriter) Write(p []byte) (n int, err error) {
	n, err = w.stdout.Write(p)
	if err != nil {
		return n, err
	}

	// File write failures must not silence stdout logging.
	if w.file != nil {
		w.file.Write(p)
	}

	return n, nil
}
