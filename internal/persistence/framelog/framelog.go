// Package framelog appends one compressed JSON line per tick, rotating hourly.
package framelog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/talgya/yardsale/internal/engine"
)

// Record is the per-tick summary written to the log.
type Record struct {
	Time          time.Time `json:"time"`
	RunID         string    `json:"run_id"`
	Iterations    int       `json:"iterations"`
	RunningTotal  float64   `json:"running_total"`
	Tracked       int       `json:"tracked"`
	TrackedWealth float64   `json:"tracked_wealth"`
	Gini          float64   `json:"gini"`
	Richest       int       `json:"richest"`
	RichestShare  float64   `json:"richest_share"`
	RichestStart  float64   `json:"richest_start"`
	Top10Share    float64   `json:"top10_share"`
}

// NewRecord summarises a frame.
func NewRecord(f engine.Frame, now time.Time) Record {
	r := Record{
		Time:         now.UTC(),
		RunID:        f.RunID,
		Iterations:   f.Iterations,
		RunningTotal: f.RunningTotal,
		Tracked:      f.Tracked,
		Gini:         f.Stats.Gini,
		Richest:      f.Stats.Richest,
		RichestShare: f.Stats.RichestShare,
		RichestStart: f.RichestStart,
		Top10Share:   f.Stats.Top10Share,
	}
	if f.Tracked >= 0 && f.Tracked < len(f.Wealth) {
		r.TrackedWealth = f.Wealth[f.Tracked]
	}
	return r
}

type JSONLZstdWriter struct {
	baseDir string
	prefix  string
	now     func() time.Time

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
		now:     time.Now,
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := w.now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(w.baseDir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.pathForHour(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 64*1024)
	w.curHour = hour
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	w.curHour = ""
	return err
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// Logger writes one Record per frame.
type Logger struct{ w *JSONLZstdWriter }

func NewLogger(dir string) *Logger {
	return &Logger{w: NewJSONLZstdWriter(dir, "frames")}
}

func (l *Logger) WriteFrame(f engine.Frame) error {
	return l.w.Write(NewRecord(f, l.w.now()))
}

func (l *Logger) Close() error { return l.w.Close() }

// ReadAll decodes every record in a log file. Files appended to across
// restarts hold several zstd frames; the decoder reads them in sequence.
func ReadAll(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	var out []Record
	jd := json.NewDecoder(dec)
	for {
		var r Record
		if err := jd.Decode(&r); err == io.EOF {
			return out, nil
		} else if err != nil {
			return out, fmt.Errorf("%s: record %d: %w", path, len(out), err)
		}
		out = append(out, r)
	}
}
