// Command httpcacheproxy runs the caching forward HTTP/1.x proxy --
// grounded on _examples/Ankit-Kulkarni-go-experiments/tcpqueue/main.go's
// listen-then-serve shape, with flag parsing taken from
// github.com/spf13/cobra the way
// _examples/broady-durable-streams/packages/caddy-plugin/cmd/caddy/main.go
// wires its root command.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/miroslav0221/httpcacheproxy/internal/acceptor"
	"github.com/miroslav0221/httpcacheproxy/internal/config"
	"github.com/miroslav0221/httpcacheproxy/internal/directory"
	"github.com/miroslav0221/httpcacheproxy/internal/proxylog"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := config.Default()
	var maxContentLength int64

	cmd := &cobra.Command{
		Use:   "httpcacheproxy <port>",
		Short: "Caching forward HTTP/1.x proxy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			port, err := strconv.Atoi(args[0])
			if err != nil || port < 1 || port > 65535 {
				return fmt.Errorf("port must be an integer in [1,65535], got %q", args[0])
			}
			cfg.Port = port
			cfg.MaxContentLength = maxContentLength
			return run(cfg)
		},
	}

	cmd.Flags().IntVar(&cfg.ChunkCapacity, "chunk-size", config.DefaultChunkCapacity, "cache chunk size in bytes")
	cmd.Flags().DurationVar(&cfg.IOTimeout, "io-timeout", config.DefaultIOTimeout, "per-socket read/write timeout")
	cmd.Flags().IntVar(&cfg.ReadBufferSize, "read-buffer", config.DefaultReadBufferSize, "producer scratch read-buffer size in bytes")
	cmd.Flags().StringVar(&cfg.LogLevel, "log-level", config.DefaultLogLevel, "debug, info, warn or error")
	cmd.Flags().Int64Var(&maxContentLength, "max-content-length", 0, "optional early-stop byte count for cached responses, headers included (0 disables)")

	return cmd
}

func run(cfg config.Config) error {
	logger := proxylog.New(cfg.LogLevel)
	defer logger.Sync()

	ln, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(cfg.Port)))
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", cfg.Port, err)
	}

	dir := directory.New()
	a := acceptor.New(ln, dir, cfg, nil, logger)

	logger.Info("httpcacheproxy: listening", zap.Int("port", cfg.Port), zap.String("chunk_size", strconv.Itoa(cfg.ChunkCapacity)))

	serveErrCh := make(chan error, 1)
	go func() { serveErrCh <- a.Serve() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serveErrCh:
		return err
	case <-sigCh:
		logger.Info("httpcacheproxy: shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return a.Shutdown(ctx)
	}
}
