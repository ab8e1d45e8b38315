package cli

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthgrpc "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/strand-protocol/tensorbridge/pkg/protocol"
)

var (
	healthTimeout time.Duration
	healthService string
)

type healthResult struct {
	Target  string `json:"target" yaml:"target"`
	Service string `json:"service" yaml:"service"`
	Status  string `json:"status" yaml:"status"`
	Latency string `json:"latency" yaml:"latency"`
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Query the health service of a tensorbridge server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		target := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
		conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return fmt.Errorf("health: %w", err)
		}
		defer conn.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), healthTimeout)
		defer cancel()

		start := time.Now()
		resp, err := healthgrpc.NewHealthClient(conn).Check(ctx, &healthgrpc.HealthCheckRequest{Service: healthService})
		if err != nil {
			return fmt.Errorf("health check failed: %w", err)
		}
		result := healthResult{
			Target:  target,
			Service: healthService,
			Status:  resp.GetStatus().String(),
			Latency: time.Since(start).Round(time.Microsecond).String(),
		}
		fmt.Fprint(cmd.OutOrStdout(), formatter.Format([]healthResult{result}))
		if resp.GetStatus() != healthgrpc.HealthCheckResponse_SERVING {
			return fmt.Errorf("%s is %s", target, result.Status)
		}
		return nil
	},
}

func init() {
	healthCmd.Flags().DurationVar(&healthTimeout, "timeout", 3*time.Second, "time to wait for the server")
	healthCmd.Flags().StringVar(&healthService, "service", protocol.ServiceName, "service name to check")
	rootCmd.AddCommand(healthCmd)
}
