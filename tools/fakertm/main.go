// Package main serves the in-process fake RTM server over WebSocket for
// manual testing of RTM clients.
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	charmlog "github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Thejuampi/rtm-client-go/internal/fakertm"
)

const shutdownTimeout = 5 * time.Second

// RootCmd returns the fakertm command.
func RootCmd() *cobra.Command {
	var (
		addr     string
		appKey   string
		roles    map[string]string
		history  int
		logLevel string
	)
	cmd := &cobra.Command{
		Use:   "fakertm",
		Short: "Serve a fake RTM endpoint for client testing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			level, err := charmlog.ParseLevel(logLevel)
			if err != nil {
				return err
			}
			logger := charmlog.NewWithOptions(os.Stderr, charmlog.Options{
				ReportTimestamp: true,
				Level:           level,
				Prefix:          "fakertm",
			})
			listener, err := net.Listen("tcp", addr)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return Serve(ctx, listener, fakertm.Config{
				AppKey:  appKey,
				Roles:   roles,
				History: history,
				Logger:  logger,
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&addr, "addr", "127.0.0.1:8080", "Listen address")
	flags.StringVar(&appKey, "appkey", "", "Required appkey query parameter (empty accepts any)")
	flags.StringToStringVar(&roles, "role", nil, "Role secrets as role=secret; enables authentication")
	flags.IntVar(&history, "history", 0, "Messages retained per channel (0 uses the server default)")
	flags.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	return cmd
}

// Serve runs the fake server on listener until ctx is done, then closes
// every session and shuts the HTTP server down.
func Serve(ctx context.Context, listener net.Listener, config fakertm.Config) error {
	server := fakertm.NewServer(config)
	httpServer := &http.Server{Handler: server, ReadHeaderTimeout: 5 * time.Second}
	if config.Logger != nil {
		config.Logger.Info("listening", "addr", listener.Addr().String())
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := httpServer.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		server.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return group.Wait()
}

func main() {
	if err := RootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
