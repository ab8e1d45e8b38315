package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/strand-protocol/tensorbridge/pkg/bridge"
	"github.com/strand-protocol/tensorbridge/pkg/datarepo"
	"github.com/strand-protocol/tensorbridge/pkg/observability"
	"github.com/strand-protocol/tensorbridge/pkg/tensor"
)

var (
	sendData     string
	sendMeta     string
	sendStart    uint64
	sendStop     uint64
	sendEpochs   int
	sendShuffle  bool
	sendSequence []int
	sendCount    int
	sendNoPace   bool
)

// frameSource yields buffers until io.EOF.
type frameSource interface {
	Next() ([]byte, error)
}

// zeroSource yields count zero-filled frames.
type zeroSource struct {
	size  uint64
	count int
}

func (z *zeroSource) Next() ([]byte, error) {
	if z.count <= 0 {
		return nil, io.EOF
	}
	z.count--
	return make([]byte, z.size), nil
}

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send tensor frames as the client role",
	Long: `Replay the samples of a data repository to a tensorbridge server, paced at
the stream frame rate. Without --data, --count zero-filled frames of the
configured stream format are sent.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.RequireRole(bridge.RoleClient); err != nil {
			return err
		}

		var (
			src    frameSource
			format tensor.Config
		)
		if sendData != "" {
			meta, err := datarepo.ReadMeta(metaPathFor(sendData, sendMeta))
			if err != nil {
				return err
			}
			r, err := datarepo.Open(sendData, meta,
				datarepo.WithRange(sendStart, sendStop),
				datarepo.WithEpochs(sendEpochs),
				datarepo.WithShuffle(sendShuffle),
				datarepo.WithTensorSequence(sendSequence...),
				datarepo.WithReaderLogger(logger),
			)
			if err != nil {
				return err
			}
			defer r.Close()
			src, format = r, r.Format()
		} else {
			f, err := cfg.StreamFormat()
			if err != nil {
				return fmt.Errorf("send: --data not given and %w", err)
			}
			src, format = &zeroSource{size: f.FrameSize(), count: sendCount}, f
		}

		metrics := observability.NewMetrics(prometheus.NewRegistry())
		b, err := bridge.New(bridge.RoleClient, cfg.Host, cfg.Port, bridgeOptions(metrics)...)
		if err != nil {
			return err
		}
		defer b.Close()
		if err := b.Configure(format); err != nil {
			return err
		}
		if err := b.Start(); err != nil {
			return err
		}

		limiter := rate.NewLimiter(rate.Inf, 1)
		if fps := format.FPS(); fps > 0 && !sendNoPace {
			limiter = rate.NewLimiter(rate.Limit(fps), 1)
		}

		sent := 0
		for {
			buf, err := src.Next()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return err
			}
			if err := limiter.Wait(ctx); err != nil {
				logger.Info("send interrupted", zap.Int("sent", sent))
				break
			}
			if err := b.Send(buf); err != nil {
				return fmt.Errorf("send frame %d: %w", sent, err)
			}
			sent++
		}

		if err := b.Close(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "sent %d frames to %s\n", sent, b.Addr())
		return nil
	},
}

func init() {
	sendCmd.Flags().StringVar(&sendData, "data", "", "sample file to replay")
	sendCmd.Flags().StringVar(&sendMeta, "meta", "", "metadata path (default: sample file with .json extension)")
	sendCmd.Flags().Uint64Var(&sendStart, "start", 0, "first sample index")
	sendCmd.Flags().Uint64Var(&sendStop, "stop", 0, "last sample index (default: last sample)")
	sendCmd.Flags().IntVar(&sendEpochs, "epochs", 1, "number of passes over the sample range")
	sendCmd.Flags().BoolVar(&sendShuffle, "shuffle", true, "shuffle sample order between epochs")
	sendCmd.Flags().IntSliceVar(&sendSequence, "tensors", nil, "send only these tensor indices of each sample, in order")
	sendCmd.Flags().IntVar(&sendCount, "count", 1, "zero-filled frames to send when --data is not given")
	sendCmd.Flags().BoolVar(&sendNoPace, "no-pace", false, "send as fast as possible instead of at the frame rate")
	rootCmd.AddCommand(sendCmd)
}
