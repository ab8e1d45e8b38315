// Package datarepo reads and writes tensor data repositories: a flat file of
// fixed-size samples plus a JSON sidecar describing them.
package datarepo

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/strand-protocol/tensorbridge/pkg/tensor"
)

var (
	ErrInvalidMeta  = errors.New("datarepo: invalid metadata")
	ErrInvalidRange = errors.New("datarepo: invalid sample range")
	ErrSampleSize   = errors.New("datarepo: sample size mismatch")
)

// Meta is the JSON sidecar of a repository.
type Meta struct {
	Caps         string `json:"gst_caps"`
	SampleSize   uint64 `json:"sample_size"`
	TotalSamples uint64 `json:"total_samples"`
}

// ReadMeta loads and validates the sidecar at path.
func ReadMeta(path string) (Meta, error) {
	var m Meta
	data, err := os.ReadFile(path)
	if err != nil {
		return m, fmt.Errorf("datarepo: read meta: %w", err)
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("%w: %v", ErrInvalidMeta, err)
	}
	if err := m.Validate(); err != nil {
		return m, err
	}
	return m, nil
}

// WriteMeta writes m to path.
func WriteMeta(path string, m Meta) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("datarepo: write meta: %w", err)
	}
	return nil
}

// Validate checks that every field is present and that the caps describe
// samples of SampleSize bytes.
func (m Meta) Validate() error {
	if m.Caps == "" {
		return fmt.Errorf("%w: missing gst_caps", ErrInvalidMeta)
	}
	if m.SampleSize == 0 {
		return fmt.Errorf("%w: missing sample_size", ErrInvalidMeta)
	}
	if m.TotalSamples == 0 {
		return fmt.Errorf("%w: missing total_samples", ErrInvalidMeta)
	}
	format, err := m.Format()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidMeta, err)
	}
	if size := format.FrameSize(); size != m.SampleSize {
		return fmt.Errorf("%w: caps describe %d bytes, sample_size is %d", ErrInvalidMeta, size, m.SampleSize)
	}
	return nil
}

// Format parses the caps into a stream format.
func (m Meta) Format() (tensor.Config, error) {
	return tensor.ParseCaps(m.Caps)
}
