package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/strand-protocol/tensorbridge/pkg/datarepo"
	"github.com/strand-protocol/tensorbridge/pkg/output"
	"github.com/strand-protocol/tensorbridge/pkg/tensor"
)

var inspectMeta string

type tensorRow struct {
	Index     int    `json:"index" yaml:"index"`
	Name      string `json:"name" yaml:"name"`
	Type      string `json:"type" yaml:"type"`
	Dimension string `json:"dimension" yaml:"dimension"`
	Bytes     uint64 `json:"bytes" yaml:"bytes"`
}

type formatView struct {
	Caps      string      `json:"caps" yaml:"caps"`
	Framerate string      `json:"framerate" yaml:"framerate"`
	FrameSize uint64      `json:"frame_size" yaml:"frame_size"`
	Samples   uint64      `json:"samples,omitempty" yaml:"samples,omitempty"`
	Tensors   []tensorRow `json:"tensors" yaml:"tensors"`
}

func newFormatView(format tensor.Config) formatView {
	v := formatView{
		Caps:      format.Caps(),
		Framerate: fmt.Sprintf("%d/%d", format.RateN, format.RateD),
		FrameSize: format.FrameSize(),
	}
	for i, info := range format.Info {
		v.Tensors = append(v.Tensors, tensorRow{
			Index:     i,
			Name:      info.Name,
			Type:      info.Type.String(),
			Dimension: info.Dimension.String(),
			Bytes:     info.Size(),
		})
	}
	return v
}

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Show the stream format of the configuration or a data repository",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var view formatView
		if inspectMeta != "" {
			meta, err := datarepo.ReadMeta(inspectMeta)
			if err != nil {
				return err
			}
			format, err := meta.Format()
			if err != nil {
				return err
			}
			view = newFormatView(format)
			view.Samples = meta.TotalSamples
		} else {
			format, err := cfg.StreamFormat()
			if err != nil {
				return err
			}
			view = newFormatView(format)
		}

		out := cmd.OutOrStdout()
		if _, ok := formatter.(*output.TableFormatter); !ok {
			fmt.Fprint(out, formatter.Format(view))
			return nil
		}
		fmt.Fprint(out, formatter.Format(view.Tensors))
		fmt.Fprintf(out, "\nframe size: %d bytes\nframerate:  %s\n", view.FrameSize, view.Framerate)
		if view.Samples > 0 {
			fmt.Fprintf(out, "samples:    %d\n", view.Samples)
		}
		return nil
	},
}

func init() {
	inspectCmd.Flags().StringVar(&inspectMeta, "meta", "", "data repository metadata file to inspect instead of the configuration")
	rootCmd.AddCommand(inspectCmd)
}
