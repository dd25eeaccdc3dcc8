package cmd

import (
	"context"
	"fmt"
	"time"

	"PPSeq/service/rpc"

	"github.com/spf13/cobra"
)

var (
	healthTarget  string
	healthService string
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Query grpc health of a running node",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := healthTarget
		if target == "" {
			target = fmt.Sprintf("127.0.0.1:%d", loader.Get().Server.GrpcPort)
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 3*time.Second)
		defer cancel()
		st, err := rpc.Check(ctx, target, healthService)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), st.String())
		return nil
	},
}

func init() {
	healthCmd.Flags().StringVar(&healthTarget, "target", "", "host:port, default 127.0.0.1:<server.grpcPort>")
	healthCmd.Flags().StringVar(&healthService, "service", "", "service name, empty for overall ("+rpc.ServiceSeq+", "+rpc.ServiceSync+", "+rpc.ServiceGateway+")")
}
