package cli

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/strand-protocol/tensorbridge/pkg/bridge"
	"github.com/strand-protocol/tensorbridge/pkg/config"
	"github.com/strand-protocol/tensorbridge/pkg/datarepo"
	"github.com/strand-protocol/tensorbridge/pkg/observability"
	"github.com/strand-protocol/tensorbridge/pkg/tensor"
)

var (
	recordPath string
	recordMeta string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Receive tensor frames as the server role",
	Long: `Listen for SendTensors streams and log every received frame. With
--record the frames are appended to a data repository that "send" can replay.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.RequireRole(bridge.RoleServer); err != nil {
			return err
		}

		var rec *datarepo.Writer
		if recordPath != "" {
			var format *tensor.Config
			if f, err := cfg.StreamFormat(); err == nil {
				format = &f
			} else if !errors.Is(err, config.ErrNoFormat) {
				return err
			}
			var err error
			rec, err = datarepo.Create(recordPath, metaPathFor(recordPath, recordMeta), format)
			if err != nil {
				return err
			}
		}

		reg := prometheus.NewRegistry()
		metrics := observability.NewMetrics(reg)

		b, err := bridge.New(bridge.RoleServer, cfg.Host, cfg.Port, bridgeOptions(metrics)...)
		if err != nil {
			return err
		}

		var frames atomic.Uint64
		b.SetFrameCallback(func(frame bridge.Frame, _ any) {
			n := frames.Add(1)
			logger.Debug("frame received", zap.Uint64("seq", n), zap.Int("tensors", len(frame.Tensors)))
			if rec != nil {
				rec.SetFrameRate(frame.RateN, frame.RateD)
				if err := rec.WriteFrame(frame.Tensors); err != nil {
					logger.Warn("record frame", zap.Uint64("seq", n), zap.Error(err))
				}
			}
		}, nil)

		if err := b.Start(); err != nil {
			if rec != nil {
				rec.Close()
			}
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "listening on %s\n", b.Addr())

		g, gctx := errgroup.WithContext(ctx)
		if err := serveMetrics(gctx, g, cfg.Metrics.Addr, reg); err != nil {
			b.Close()
			if rec != nil {
				rec.Close()
			}
			return err
		}
		g.Go(func() error {
			<-gctx.Done()
			return b.Close()
		})
		err = g.Wait()

		if rec != nil {
			if cerr := rec.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "received %d frames\n", frames.Load())
		return err
	},
}

// metaPathFor returns meta, or dataPath with its extension replaced by .json.
func metaPathFor(dataPath, meta string) string {
	if meta != "" {
		return meta
	}
	if i := strings.LastIndexByte(dataPath, '.'); i > strings.LastIndexByte(dataPath, '/') {
		return dataPath[:i] + ".json"
	}
	return dataPath + ".json"
}

func init() {
	serveCmd.Flags().StringVar(&recordPath, "record", "", "append received frames to this sample file")
	serveCmd.Flags().StringVar(&recordMeta, "record-meta", "", "metadata path for --record (default: sample file with .json extension)")
	rootCmd.AddCommand(serveCmd)
}
