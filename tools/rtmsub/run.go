package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/Thejuampi/rtm-client-go/rtm"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

// Run connects, subscribes to config.Channel and writes every received
// message to output as one JSON line. It returns when ctx is done, the
// message limit or timeout is reached, or the subscription is terminated
// by the server.
func Run(ctx context.Context, config *Config, output io.Writer) error {
	if config.Timeout > 0 {
		var cancelTimeout context.CancelFunc
		ctx, cancelTimeout = context.WithTimeout(ctx, config.Timeout)
		defer cancelTimeout()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger := newLogger(config.Log)
	client, registry, err := newClient(config, logger)
	if err != nil {
		return err
	}

	group, ctx := errgroup.WithContext(ctx)
	if config.MetricsAddr != "" {
		server := &http.Server{
			Addr:              config.MetricsAddr,
			Handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		group.Go(func() error {
			if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		group.Go(func() error {
			<-ctx.Done()
			return server.Shutdown(context.Background())
		})
	}
	group.Go(func() error {
		defer cancel()
		return subscribe(ctx, client, config, newPrinter(output, config.Count, config.Reconnect.Enabled, logger))
	})
	return group.Wait()
}

func newLogger(config LogConfig) rtm.Logger {
	if config.JSON {
		return rtm.NewJSONLogger(os.Stderr, config.Level)
	}
	return rtm.NewLogger(os.Stderr, config.Level)
}

func newClient(config *Config, logger rtm.Logger) (*rtm.Client, *prometheus.Registry, error) {
	registry := prometheus.NewRegistry()
	metrics, err := rtm.NewMetrics(registry)
	if err != nil {
		return nil, nil, err
	}
	client := rtm.NewClient(config.Endpoint, config.AppKey).
		SetLogger(logger).
		SetMetrics(metrics).
		SetAutoReconnect(config.Reconnect.Enabled).
		SetReconnectDelayStrategy(rtm.NewExponentialDelayStrategy(config.Reconnect.MinDelay, config.Reconnect.MaxDelay, 2)).
		SetErrorHandler(func(err error) { logger.Warn("client error", "err", err) })
	if len(config.Endpoints) > 0 {
		client.SetEndpointChooser(rtm.NewRoundRobinChooser(append([]string{config.Endpoint}, config.Endpoints...)...))
	}
	if config.Auth.Role != "" {
		client.SetAuthenticator(rtm.NewRoleSecretAuthenticator(config.Auth.Role, config.Auth.Secret))
	}
	if config.PositionFile != "" {
		store, err := rtm.NewFilePositionStore(config.PositionFile)
		if err != nil {
			return nil, nil, err
		}
		client.SetPositionStore(store)
	}
	return client, registry, nil
}

func subscriptionOptions(config *Config) rtm.Options {
	options := rtm.Options{}
	if config.Filter != "" {
		options = options.WithFilter(config.Filter)
	}
	subscription := config.Subscription
	if subscription.ID != "" {
		options = options.WithSubscriptionID(subscription.ID)
	}
	if subscription.Position != "" {
		options = options.WithPosition(subscription.Position)
	}
	if subscription.FastForward {
		options = options.WithFastForward(true)
	}
	if subscription.HistoryCount > 0 || subscription.HistoryAge > 0 {
		options = options.WithHistory(subscription.HistoryCount, subscription.HistoryAge)
	}
	return options
}

func subscribe(ctx context.Context, client *rtm.Client, config *Config, output *printer) error {
	defer func() {
		if err := client.Close(); err != nil {
			output.logger.Warn("close failed", "err", err)
		}
	}()
	if err := client.Connect(ctx); err != nil {
		return err
	}
	if _, err := client.Subscribe(ctx, config.Channel, output, subscriptionOptions(config)); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return nil
	case <-output.done:
		return output.err
	}
}

// printer writes data messages as JSON lines and finishes after limit
// messages, or when the subscription ends for good.
type printer struct {
	encoder   *json.Encoder
	limit     int
	reconnect bool
	logger    rtm.Logger

	printed int
	err     error
	done    chan struct{}
	once    sync.Once
}

func newPrinter(output io.Writer, limit int, reconnect bool, logger rtm.Logger) *printer {
	return &printer{
		encoder:   json.NewEncoder(output),
		limit:     limit,
		reconnect: reconnect,
		logger:    logger,
		done:      make(chan struct{}),
	}
}

func (output *printer) HandleEvent(subscription *rtm.Subscription, event rtm.Event) {
	event.Accept(output)
	if rejected, ok := event.(rtm.ErrorEvent); ok && subscription != nil && subscription.State() == rtm.StatePending {
		output.finish(rtm.NewError(rtm.ProtocolError, "subscribe rejected: "+rejected.Error+": "+rejected.Reason))
	}
}

func (output *printer) finish(err error) {
	output.once.Do(func() {
		output.err = err
		close(output.done)
	})
}

func (output *printer) VisitSubscribed(event rtm.SubscribedEvent) {
	output.logger.Info("subscribed", "subscription", event.SubscriptionID, "position", event.Position)
}

func (output *printer) VisitUnsubscribed(event rtm.UnsubscribedEvent) {
	switch event.Cause {
	case rtm.CauseDisconnect:
		if output.reconnect {
			output.logger.Warn("connection lost, resubscribing", "subscription", event.SubscriptionID, "position", event.Position)
			return
		}
		output.finish(rtm.NewError(rtm.DisconnectedError, "connection lost at position "+event.Position))
	case rtm.CauseServerError:
		output.finish(rtm.NewError(rtm.ProtocolError, event.Error+": "+event.Reason))
	default:
		output.finish(nil)
	}
}

func (output *printer) VisitError(event rtm.ErrorEvent) {
	output.logger.Error("subscription error", "subscription", event.SubscriptionID, "error", event.Error, "reason", event.Reason)
}

func (output *printer) VisitInfo(event rtm.InfoEvent) {
	output.logger.Info("subscription info", "subscription", event.SubscriptionID, "info", event.Info, "reason", event.Reason)
}

func (output *printer) VisitData(event rtm.DataEvent) {
	for _, message := range event.Messages {
		if output.limit > 0 && output.printed >= output.limit {
			return
		}
		if err := output.encoder.Encode(message); err != nil {
			output.finish(err)
			return
		}
		output.printed++
	}
	if output.limit > 0 && output.printed >= output.limit {
		output.finish(nil)
	}
}
