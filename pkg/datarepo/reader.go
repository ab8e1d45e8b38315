package datarepo

import (
	"fmt"
	"io"
	"math/bits"
	"math/rand/v2"
	"os"

	"go.uber.org/zap"

	"github.com/strand-protocol/tensorbridge/pkg/logging"
	"github.com/strand-protocol/tensorbridge/pkg/tensor"
)

// ReaderOption configures a Reader.
type ReaderOption func(*Reader)

// WithRange limits reading to samples start..stop inclusive. A stop of 0
// means the last sample.
func WithRange(start, stop uint64) ReaderOption {
	return func(r *Reader) {
		r.start = start
		r.stop = stop
	}
}

// WithEpochs sets how many times the range is read. The default is 1.
func WithEpochs(n int) ReaderOption {
	return func(r *Reader) { r.epochs = n }
}

// WithShuffle enables or disables shuffling the sample order between
// epochs. The first epoch is always sequential. The default is true.
func WithShuffle(shuffle bool) ReaderOption {
	return func(r *Reader) { r.shuffle = shuffle }
}

// WithRand sets the random source used for shuffling.
func WithRand(rng *rand.Rand) ReaderOption {
	return func(r *Reader) { r.rng = rng }
}

// WithTensorSequence reads only the listed tensors of each sample, in the
// listed order.
func WithTensorSequence(seq ...int) ReaderOption {
	return func(r *Reader) { r.sequence = append([]int(nil), seq...) }
}

// WithReaderLogger sets the logger.
func WithReaderLogger(l *zap.Logger) ReaderOption {
	return func(r *Reader) { r.log = logging.OrNop(l) }
}

// Reader replays the samples of a repository.
type Reader struct {
	f      *os.File
	meta   Meta
	format tensor.Config
	log    *zap.Logger

	start, stop uint64
	epochs      int
	shuffle     bool
	rng         *rand.Rand
	sequence    []int

	// per-tensor byte offsets within a sample
	offsets []uint64
	order   []uint64
	pos     int
	epoch   int
}

// Open opens the sample file at dataPath described by meta.
func Open(dataPath string, meta Meta, opts ...ReaderOption) (*Reader, error) {
	if err := meta.Validate(); err != nil {
		return nil, err
	}
	format, err := meta.Format()
	if err != nil {
		return nil, err
	}

	r := &Reader{
		meta:    meta,
		format:  format,
		log:     zap.NewNop(),
		epochs:  1,
		shuffle: true,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.rng == nil {
		r.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if r.stop == 0 {
		r.stop = meta.TotalSamples - 1
	}
	if r.start > r.stop || r.stop >= meta.TotalSamples || r.epochs <= 0 {
		return nil, fmt.Errorf("%w: samples %d..%d of %d, %d epochs",
			ErrInvalidRange, r.start, r.stop, meta.TotalSamples, r.epochs)
	}

	var off uint64
	r.offsets = make([]uint64, format.NumTensors())
	for i, info := range format.Info {
		r.offsets[i] = off
		off += info.Size()
	}
	for _, idx := range r.sequence {
		if idx < 0 || idx >= format.NumTensors() {
			return nil, fmt.Errorf("datarepo: tensor index %d out of range, sample has %d tensors", idx, format.NumTensors())
		}
	}

	f, err := os.Open(dataPath)
	if err != nil {
		return nil, fmt.Errorf("datarepo: open samples: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("datarepo: stat samples: %w", err)
	}
	hi, need := bits.Mul64(meta.SampleSize, meta.TotalSamples)
	if hi != 0 || uint64(st.Size()) < need {
		f.Close()
		return nil, fmt.Errorf("datarepo: %s holds %d bytes, metadata needs %d", dataPath, st.Size(), need)
	}
	r.f = f

	r.order = make([]uint64, 0, r.stop-r.start+1)
	for i := r.start; i <= r.stop; i++ {
		r.order = append(r.order, i)
	}
	r.log.Debug("repository opened",
		zap.String("path", dataPath),
		zap.Uint64("start", r.start), zap.Uint64("stop", r.stop),
		zap.Int("epochs", r.epochs), zap.Bool("shuffle", r.shuffle))
	return r, nil
}

// Format returns the format of the buffers returned by Next. With a tensor
// sequence it lists only the selected tensors.
func (r *Reader) Format() tensor.Config {
	if len(r.sequence) == 0 {
		return r.format
	}
	out := tensor.Config{RateN: r.format.RateN, RateD: r.format.RateD}
	for _, idx := range r.sequence {
		out.Info = append(out.Info, r.format.Info[idx])
	}
	return out
}

// Next returns the next sample. It returns io.EOF after the last epoch.
func (r *Reader) Next() ([]byte, error) {
	if r.pos == len(r.order) {
		r.epoch++
		r.pos = 0
		if r.epoch >= r.epochs {
			return nil, io.EOF
		}
		if r.shuffle {
			r.rng.Shuffle(len(r.order), func(i, j int) {
				r.order[i], r.order[j] = r.order[j], r.order[i]
			})
		}
	}
	if r.epoch >= r.epochs {
		return nil, io.EOF
	}

	index := r.order[r.pos]
	r.pos++
	base := index * r.meta.SampleSize

	if len(r.sequence) == 0 {
		buf := make([]byte, r.meta.SampleSize)
		if _, err := r.f.ReadAt(buf, int64(base)); err != nil {
			return nil, fmt.Errorf("datarepo: read sample %d: %w", index, err)
		}
		return buf, nil
	}

	buf := make([]byte, 0, r.Format().FrameSize())
	for _, idx := range r.sequence {
		size := r.format.Info[idx].Size()
		part := make([]byte, size)
		if _, err := r.f.ReadAt(part, int64(base+r.offsets[idx])); err != nil {
			return nil, fmt.Errorf("datarepo: read sample %d tensor %d: %w", index, idx, err)
		}
		buf = append(buf, part...)
	}
	return buf, nil
}

// Close closes the sample file.
func (r *Reader) Close() error {
	return r.f.Close()
}
