package commands

import (
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"

	"nutflow/pkg/rpc"
	"nutflow/pkg/server"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve workflow output over HTTP (and gRPC when server.grpc_addr is set)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		out := cmd.OutOrStdout()
		g, ctx := errgroup.WithContext(ctx)

		g.Go(func() error {
			ready := announce(out, "HTTP")
			defer close(ready)
			err := server.Serve(ctx, server.Config{
				Addr:            viper.GetString("server.addr"),
				ShutdownTimeout: viper.GetDuration("server.shutdown_timeout"),
			}, NF.Orchestrator, ready)
			if err != nil {
				return fmt.Errorf("❌ Failed to serve HTTP: %w", err)
			}
			return nil
		})

		if addr := viper.GetString("server.grpc_addr"); addr != "" {
			g.Go(func() error {
				ready := announce(out, "gRPC")
				defer close(ready)
				if err := rpc.Serve(ctx, rpc.Config{Addr: addr}, NF.Orchestrator, ready); err != nil {
					return fmt.Errorf("❌ Failed to serve gRPC: %w", err)
				}
				return nil
			})
		}

		// 一个服务失败会取消 ctx，另一个随之优雅关闭
		if err := g.Wait(); err != nil {
			return err
		}
		fmt.Fprintln(out, "👋 Server stopped.")
		return nil
	},
}

// announce 在监听成功后打印实际地址
func announce(w io.Writer, kind string) chan net.Addr {
	ready := make(chan net.Addr, 1)
	go func() {
		if addr, ok := <-ready; ok {
			fmt.Fprintf(w, "🚀 %s server listening on %s...\n", kind, addr)
		}
	}()
	return ready
}

func init() {
	serveCmd.Flags().String("addr", "", "HTTP listen address (overrides server.addr)")
	serveCmd.Flags().String("grpc-addr", "", "gRPC listen address (overrides server.grpc_addr)")
	cobra.CheckErr(viper.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr")))
	cobra.CheckErr(viper.BindPFlag("server.grpc_addr", serveCmd.Flags().Lookup("grpc-addr")))
	rootCmd.AddCommand(serveCmd)
}
