// streamtest subscribes to one upstream channel through the feed engine and
// prints the records a gateway client would receive.
// Usage: go run ./cmd/streamtest --config configs/gateway.yaml --channel book --inst BTC-USDT
//
// Private channels (orders, trades, positions, summaries) need the upstream
// api key, secret key and passphrase in the config.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rickgao/astras-gateway/internal/api"
	"github.com/rickgao/astras-gateway/internal/auth"
	"github.com/rickgao/astras-gateway/internal/config"
	"github.com/rickgao/astras-gateway/internal/feed"
	"github.com/rickgao/astras-gateway/internal/model"
	"github.com/rickgao/astras-gateway/internal/translate"
)

type options struct {
	configPath string
	channel    string
	instID     string
	depth      int
	tf         string
	since      time.Duration
	format     string
	verbose    bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var opts options
	cmd := &cobra.Command{
		Use:          "streamtest",
		Short:        "Print one upstream channel as gateway client records",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.configPath, "config", "configs/gateway.example.yaml", "path to config file")
	f.StringVar(&opts.channel, "channel", "quotes", "quotes, book, bars, orders, trades, positions or summaries")
	f.StringVar(&opts.instID, "inst", "BTC-USDT", "upstream instrument id")
	f.IntVar(&opts.depth, "depth", 5, "order book depth")
	f.StringVar(&opts.tf, "tf", "60", "bar timeframe in client notation")
	f.DurationVar(&opts.since, "since", time.Hour, "bar history to backfill")
	f.StringVar(&opts.format, "format", "Simple", "Simple or Slim")
	f.BoolVar(&opts.verbose, "verbose", false, "print indented JSON")

	if err := cmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	cfg, err := config.LoadWithDefaults(opts.configPath)
	if err != nil {
		return err
	}

	creds, err := auth.NewCredentials(cfg.Upstream.APIKey, cfg.Upstream.SecretKey, cfg.Upstream.Passphrase)
	if err != nil {
		logger.Warn("no upstream credentials, private channels will be rejected")
		creds = nil
	}
	apiOpts := []api.ClientOption{api.WithLogger(logger), api.WithSimulated(cfg.Upstream.Simulated)}
	if creds != nil {
		apiOpts = append(apiOpts, api.WithCredentials(creds))
	}
	rest := api.NewClient(cfg.Upstream.RestURL, apiOpts...)

	engine := feed.NewEngine(feed.Config{
		Endpoints: feed.Endpoints{
			Public:   cfg.Upstream.PublicWSURL,
			Private:  cfg.Upstream.PrivateWSURL,
			Business: cfg.Upstream.BusinessWSURL,
		},
		Credentials: creds,
	}, logger, nil)

	ch, err := buildChannel(opts, rest)
	if err != nil {
		return err
	}

	meta := translate.Meta{Exchange: cfg.Gateway.Exchange, Portfolio: cfg.Gateway.Portfolio}
	format := model.ParseFormat(opts.format)

	logger.Info("subscribing", "channel", ch.Kind(), "inst", opts.instID)
	var delivered int
	for ev := range engine.Subscribe(ctx, ch) {
		switch ev.Kind {
		case feed.EventSubscribed:
			logger.Info("subscribed - press Ctrl+C to stop")
		case feed.EventError:
			logger.Error("subscription failed", "error", ev.Err)
			return ev.Err
		case feed.EventData:
			delivered++
			printRecord(ch.Kind(), render(ev, meta, format), opts.verbose)
		}
	}
	logger.Info("stream closed", "delivered", delivered)
	return nil
}

func buildChannel(opts options, rest *api.Client) (feed.Channel, error) {
	switch opts.channel {
	case "quotes":
		return &feed.QuotesChannel{InstID: opts.instID}, nil
	case "book":
		return &feed.BookChannel{InstID: opts.instID, Depth: opts.depth}, nil
	case "bars":
		bar, err := translate.Timeframe(opts.tf)
		if err != nil {
			return nil, err
		}
		from := time.Now().Add(-opts.since).UnixMilli()
		return &feed.BarsChannel{InstID: opts.instID, Bar: bar, From: from, Source: rest}, nil
	case "orders":
		return &feed.OrdersChannel{Source: rest}, nil
	case "trades":
		return &feed.TradesChannel{Source: rest}, nil
	case "positions":
		return &feed.PositionsChannel{Source: rest}, nil
	case "summaries":
		return &feed.SummariesChannel{Source: rest}, nil
	}
	return nil, fmt.Errorf("unknown channel %q", opts.channel)
}

func render(ev feed.Event, meta translate.Meta, format model.Format) any {
	switch p := ev.Payload.(type) {
	case api.Ticker:
		return translate.Quote(p, meta, format)
	case feed.BookView:
		return translate.Book(p, ev.Existing, format)
	case api.Candle:
		return translate.Bar(p, format)
	case api.Order:
		return translate.Order(p, ev.Existing, meta, format)
	case api.Fill:
		return translate.Trade(p, ev.Existing, meta, format)
	case api.Position:
		return translate.Position(p, ev.Existing, meta, format)
	case api.Balance:
		return translate.Summary(p, format)
	}
	return ev.Payload
}

func printRecord(kind string, v any, verbose bool) {
	var data []byte
	if verbose {
		data, _ = json.MarshalIndent(v, "", "  ")
	} else {
		data, _ = json.Marshal(v)
	}
	fmt.Printf("[%s] %s\n", kind, data)
}
