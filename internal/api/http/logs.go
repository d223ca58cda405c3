package httpapi

import (
	"bufio"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/i474232898/sensor-monitoring/internal/logging"
)

const (
	defaultLogLines = 200
	maxLogLines     = 1000
)

var errLogMissing = errors.New("log file missing")

type logQuery struct {
	Lines  int
	Errors bool
}

func (q *logQuery) clamp() {
	q.Lines = min(max(q.Lines, 1), maxLogLines)
}

func (q logQuery) path(dir string) string {
	if q.Errors {
		return filepath.Join(dir, logging.ErrorLogFile)
	}
	return filepath.Join(dir, logging.CombinedLogFile)
}

// tailFile returns the last n lines of the file at path.
func tailFile(path string, n int) ([]string, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, errLogMissing
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ring := make([]string, 0, n)
	start := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if len(ring) < n {
			ring = append(ring, scanner.Text())
			continue
		}
		ring[start] = scanner.Text()
		start = (start + 1) % n
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(ring))
	out = append(out, ring[start:]...)
	return append(out, ring[:start]...), nil
}

func joinLines(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}
