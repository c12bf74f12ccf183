// Package timing writes the run's timing log: one JSON object per line with the wall-clock
// time, the timer type, the timer key and the duration in fractional seconds.
package timing

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
)

// Timer types.
const (
	TimerSetup     = "setup"
	TimerBatchLoad = "batch_load"
	TimerPhase     = "phase"
	TimerQuery     = "query"
	TimerLoad      = "load"
)

const fileNameLayout = "2006-01-02_15-04-05"

// Entry is one line of the timing log.
type Entry struct {
	Time     string  `json:"time"`
	Timer    string  `json:"timer"`
	Key      string  `json:"key"`
	Duration float64 `json:"duration"`
}

// Log is safe for concurrent use.
type Log struct {
	mu     sync.Mutex
	out    io.Writer
	closer io.Closer
	now    func() time.Time
	path   string
}

// New writes timing entries to w.
func New(w io.Writer) *Log {
	return &Log{out: w, now: time.Now}
}

// Open creates {dir}/{YYYY-MM-DD_HH-MM-SS}_timing.log, or writes to fallback when dir is empty.
func Open(dir string, fallback io.Writer) (*Log, error) {
	if dir == "" {
		return New(fallback), nil
	}

	path := filepath.Join(dir, time.Now().Format(fileNameLayout)+"_timing.log")

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating timing log: %w", err)
	}

	l := New(f)
	l.closer = f
	l.path = path

	return l, nil
}

// Path returns the file path, or "" when logging to a plain writer.
func (l *Log) Path() string {
	return l.path
}

// Record writes one entry.
func (l *Log) Record(timer, key string, d time.Duration) error {
	line, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(Entry{
		Time:     l.now().Format("2006-01-02T15:04:05.000000"),
		Timer:    timer,
		Key:      key,
		Duration: d.Seconds(),
	})
	if err != nil {
		return fmt.Errorf("encoding timing entry: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.out.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("writing timing entry: %w", err)
	}

	return nil
}

// Close closes the underlying file, if Open created one.
func (l *Log) Close() error {
	if l.closer == nil {
		return nil
	}

	return l.closer.Close()
}
