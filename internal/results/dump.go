// internal/results/dump.go
package results

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrDumpFailed marks any failure to persist a diagnostic page.
var ErrDumpFailed = errors.New("failed to write diagnostic page")

// dumpTimeLayout renders the date, time and microseconds of the dump.
const dumpTimeLayout = "20060102-150405.000000"

// FileSink stores pages that explain an unclassified authentication failure.
// Each page lands in its own file under Dir and is identified by its file name.
type FileSink struct {
	dir    string
	now    func() time.Time
	logger *zap.Logger
}

// NewFileSink creates a sink writing into dir. The directory is created on first use.
func NewFileSink(dir string, logger *zap.Logger) *FileSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileSink{
		dir:    dir,
		now:    time.Now,
		logger: logger.Named("results"),
	}
}

// EnsureDir creates the results directory with mode 0755. An existing directory is fine.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create results directory %s: %w", dir, err)
	}
	return nil
}

// Location is the directory diagnostics are written to.
func (s *FileSink) Location() string {
	return s.dir
}

// Dump writes page to error_<timestamp>.html and returns the file name.
// Every failure wraps ErrDumpFailed.
func (s *FileSink) Dump(page string) (string, error) {
	if err := EnsureDir(s.dir); err != nil {
		return "", fmt.Errorf("%w: %w", ErrDumpFailed, err)
	}

	name := "error_" + s.now().Format(dumpTimeLayout) + ".html"
	f, err := os.OpenFile(filepath.Join(s.dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, os.ErrExist) {
		// Two dumps within the same microsecond.
		name = "error_" + s.now().Format(dumpTimeLayout) + "-" + uuid.NewString()[:8] + ".html"
		f, err = os.OpenFile(filepath.Join(s.dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	}
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrDumpFailed, err)
	}

	if _, err := f.WriteString(page); err != nil {
		f.Close()
		return "", fmt.Errorf("%w: %w", ErrDumpFailed, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrDumpFailed, err)
	}

	s.logger.Info("Diagnostic page written", zap.String("file", name), zap.Int("bytes", len(page)))
	return name, nil
}
