package replay

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"

	"arenasim.ai/internal/protocol"
)

const partialSuffix = ".partial"

var errClosed = errors.New("replay writer closed")

// JSONLZstdWriter appends JSON lines to a zstd stream. The file is written
// as <path>.partial and renamed to <path> on Close.
type JSONLZstdWriter struct {
	path string

	mu  sync.Mutex
	f   *os.File
	enc *zstd.Encoder
	w   *bufio.Writer
}

func NewJSONLZstdWriter(path string) (*JSONLZstdWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path+partialSuffix, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &JSONLZstdWriter{
		path: path,
		f:    f,
		enc:  enc,
		w:    bufio.NewWriterSize(enc, 128*1024),
	}, nil
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.w == nil {
		return errClosed
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	return w.w.WriteByte('\n')
}

// Close flushes the stream and moves the file into place.
func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	var errs []error
	if err := w.w.Flush(); err != nil {
		errs = append(errs, err)
	}
	if err := w.enc.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := w.f.Close(); err != nil {
		errs = append(errs, err)
	}
	w.f, w.enc, w.w = nil, nil, nil
	if err := errors.Join(errs...); err != nil {
		return err
	}
	return os.Rename(w.path+partialSuffix, w.path)
}

// Recorder writes one series as a replay file.
type Recorder struct {
	w    *JSONLZstdWriter
	done bool
}

func Create(path string) (*Recorder, error) {
	w, err := NewJSONLZstdWriter(path)
	if err != nil {
		return nil, fmt.Errorf("replay %s: %w", path, err)
	}
	return &Recorder{w: w}, nil
}

// Path is where the finished replay ends up.
func (r *Recorder) Path() string { return r.w.path }

func (r *Recorder) BeginSeries(h protocol.SeriesHeader) error {
	h.Type = protocol.RecordSeries
	if h.ProtocolVersion == "" {
		h.ProtocolVersion = protocol.Version
	}
	return r.w.Write(h)
}

func (r *Recorder) BeginMatch(h protocol.MatchHeader) error {
	h.Type = protocol.RecordMatch
	return r.w.Write(h)
}

func (r *Recorder) WriteRound(rec protocol.RoundRecord) error {
	rec.Type = protocol.RecordRound
	return r.w.Write(rec)
}

func (r *Recorder) EndMatch(f protocol.MatchFooter) error {
	f.Type = protocol.RecordMatchEnd
	return r.w.Write(f)
}

func (r *Recorder) EndSeries(f protocol.SeriesFooter) error {
	f.Type = protocol.RecordSeriesEnd
	if err := r.w.Write(f); err != nil {
		return err
	}
	r.done = true
	return nil
}

// Abort writes the error marker. The replay stays readable up to that point.
func (r *Recorder) Abort(cause error) error {
	msg := "aborted"
	if cause != nil {
		msg = cause.Error()
	}
	r.done = true
	return r.w.Write(protocol.ErrorRecord{Type: protocol.RecordError, Message: msg})
}

// Close finishes the file. A series that neither ended nor aborted gets an
// error marker first.
func (r *Recorder) Close() error {
	var err error
	if !r.done {
		err = r.Abort(errors.New("replay closed before the series ended"))
	}
	return errors.Join(err, r.w.Close())
}
