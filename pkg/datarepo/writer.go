package datarepo

import (
	"bufio"
	"fmt"
	"os"
	"sync"

	"github.com/strand-protocol/tensorbridge/pkg/tensor"
)

// Writer appends frames to a repository. It is safe for concurrent use, so
// it can be fed directly from a delivery callback.
type Writer struct {
	mu       sync.Mutex
	f        *os.File
	w        *bufio.Writer
	metaPath string
	format   *tensor.Config
	rateN    int32
	rateD    int32
	samples  uint64
	closed   bool
}

// Create truncates dataPath and prepares a repository whose sidecar is
// written to metaPath on Close. If format is nil it is taken from the first
// frame written.
func Create(dataPath, metaPath string, format *tensor.Config) (*Writer, error) {
	if format != nil {
		if err := format.Validate(); err != nil {
			return nil, fmt.Errorf("datarepo: %w", err)
		}
		cp := *format
		cp.Info = append([]tensor.Info(nil), format.Info...)
		format = &cp
	}
	f, err := os.Create(dataPath)
	if err != nil {
		return nil, fmt.Errorf("datarepo: create samples: %w", err)
	}
	return &Writer{
		f:        f,
		w:        bufio.NewWriterSize(f, 1<<20),
		metaPath: metaPath,
		format:   format,
	}, nil
}

// SetFrameRate records the frame rate written to the sidecar when the format
// is inferred from frames.
func (w *Writer) SetFrameRate(n, d int32) {
	w.mu.Lock()
	w.rateN, w.rateD = n, d
	w.mu.Unlock()
}

// WriteFrame appends one decoded frame as a sample. Every frame must match
// the repository format.
func (w *Writer) WriteFrame(mems []tensor.Memory) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return os.ErrClosed
	}
	if w.format == nil {
		cfg := tensor.Config{RateN: w.rateN, RateD: w.rateD}
		for _, m := range mems {
			cfg.Info = append(cfg.Info, m.Info)
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("datarepo: infer format: %w", err)
		}
		w.format = &cfg
	}

	if len(mems) != w.format.NumTensors() {
		return fmt.Errorf("%w: frame has %d tensors, repository has %d", ErrSampleSize, len(mems), w.format.NumTensors())
	}
	for i, m := range mems {
		if want := w.format.Info[i].Size(); uint64(len(m.Data)) != want {
			return fmt.Errorf("%w: tensor %d has %d bytes, want %d", ErrSampleSize, i, len(m.Data), want)
		}
	}
	for _, m := range mems {
		if _, err := w.w.Write(m.Data); err != nil {
			return fmt.Errorf("datarepo: write sample: %w", err)
		}
	}
	w.samples++
	return nil
}

// WriteSample appends one contiguous sample. The format must be known.
func (w *Writer) WriteSample(buf []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return os.ErrClosed
	}
	if w.format == nil {
		return fmt.Errorf("datarepo: format unknown")
	}
	if want := w.format.FrameSize(); uint64(len(buf)) != want {
		return fmt.Errorf("%w: sample has %d bytes, want %d", ErrSampleSize, len(buf), want)
	}
	if _, err := w.w.Write(buf); err != nil {
		return fmt.Errorf("datarepo: write sample: %w", err)
	}
	w.samples++
	return nil
}

// Samples returns the number of samples written so far.
func (w *Writer) Samples() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.samples
}

// Close flushes the samples and writes the sidecar. No sidecar is written
// for an empty repository.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.w.Flush(); err != nil {
		w.f.Close()
		return fmt.Errorf("datarepo: flush samples: %w", err)
	}
	if err := w.f.Close(); err != nil {
		return fmt.Errorf("datarepo: close samples: %w", err)
	}
	if w.samples == 0 || w.format == nil {
		return nil
	}
	return WriteMeta(w.metaPath, Meta{
		Caps:         w.format.Caps(),
		SampleSize:   w.format.FrameSize(),
		TotalSamples: w.samples,
	})
}
