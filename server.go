package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"rewind/internal/websocket"
)

var (
	listenAddr string

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve the tracker over websocket JSON-RPC",
		Long: `Serve the tracker over websocket JSON-RPC. Tool signals arrive as
OnToolInvoked / OnToolCompleted calls; tracking events are pushed to every
connected client.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
)

func init() {
	serveCmd.Flags().StringVar(&listenAddr, "addr", "", "listen address (default from config.yaml)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	addr := listenAddr
	if addr == "" {
		addr = app.config.Tracking.ListenAddr
	}

	opts := websocket.Options{Addr: addr}
	if app.registry != nil {
		opts.Metrics = promhttp.HandlerFor(app.registry, promhttp.HandlerOpts{})
	}

	// 创建并启动 WebSocket 服务器
	wsServer := websocket.NewServer(app, opts)

	// 将 WebSocket 服务器设置为事件广播器
	app.setBroadcaster(wsServer)

	port, err := wsServer.Start(ctx)
	if err != nil {
		return fmt.Errorf("failed to start websocket server: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "REWIND_WS_READY:port=%d\n", port)

	// 等待退出信号
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	log.Printf("[Server] shutting down")
	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if err := wsServer.Stop(shutdownCtx); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
