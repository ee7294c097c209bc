package auditstore

import (
	"log"
	"os"
	"time"
)

// stderrLogf logs a diagnostic about the audit store's own health to
// stderr through a dedicated logger, deliberately bypassing Writer (which
// may be installed as the standard logger's output) so a failing store can
// never recurse into logging about itself.
func stderrLogf(format string, args ...any) {
	log.New(os.Stderr, "", log.LstdFlags).Printf(format, args...)
}

func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Writer adapts a Store into an io.Writer suitable for log.SetOutput, so
// every log.Printf call in the process is also durably recorded. Intended
// to be combined with the default stderr writer via io.MultiWriter.
type Writer struct {
	store *Store
}

// NewWriter wraps store as an io.Writer.
func NewWriter(store *Store) *Writer {
	return &Writer{store: store}
}

func (w *Writer) Write(p []byte) (int, error) {
	line := string(p)
	if _, err := w.store.db.Exec(
		`INSERT INTO log_lines (ts, line) VALUES (?, ?)`, time.Now().Unix(), line,
	); err != nil {
		// Do not recurse through log.Printf here: that would feed back into
		// this same Writer. Fall back to stderr directly.
		os.Stderr.WriteString("auditstore: write log line: " + err.Error() + "\n")
	}
	return len(p), nil
}
