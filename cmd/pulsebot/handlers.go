package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/elonfeng/pulsebot/internal/admission"
	"github.com/elonfeng/pulsebot/internal/config"
	"github.com/elonfeng/pulsebot/internal/logging"
	"github.com/elonfeng/pulsebot/internal/scheduler"
	"github.com/elonfeng/pulsebot/internal/store"
	"github.com/elonfeng/pulsebot/pkg/notify"
	"github.com/elonfeng/pulsebot/pkg/poll"
	"github.com/elonfeng/pulsebot/pkg/price"
	"github.com/elonfeng/pulsebot/pkg/pricealert"
	"github.com/elonfeng/pulsebot/pkg/server"
	"github.com/elonfeng/pulsebot/pkg/source"
)

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config:\n%w", err)
	}
	return cfg, nil
}

func openStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*store.Store, error) {
	var (
		backend store.Backend
		err     error
	)
	switch cfg.Store.Driver {
	case "sqlite":
		backend, err = store.NewSQLite(cfg.Store.Path)
	case "file":
		backend, err = store.NewFile(cfg.Store.Dir)
	case "redis":
		backend, err = store.NewRedis(ctx, cfg.Store.RedisURL, cfg.Store.KeyPrefix)
	case "memory":
		backend = store.NewMemory()
	default:
		err = fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Store.Driver, err)
	}

	st := store.New(backend, log)
	if err := st.Load(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("load store: %w", err)
	}
	return st, nil
}

func buildSink(cfg *config.Config, log zerolog.Logger) (notify.Sink, error) {
	switch cfg.Notify.Provider {
	case "discord":
		return notify.NewDiscord(cfg.Notify.Discord.Token), nil
	case "telegram":
		return notify.NewTelegram(cfg.Notify.Telegram.Token, cfg.Notify.Telegram.APIURL)
	case "webhook":
		return notify.NewWebhook(cfg.Notify.Webhook.URL, cfg.Notify.Webhook.Secret), nil
	}
	return notify.NewLog(log), nil
}

func buildPriceClient(cfg *config.Config) *price.Client {
	return price.NewClient(cfg.Price.ParseTimeout(),
		price.WithBaseURL(cfg.Price.BaseURL),
		price.WithAPIKey(cfg.Price.APIKey),
		price.WithRateLimit(cfg.Price.RatePerMinute),
	)
}

func buildPoller(cfg *config.Config, log zerolog.Logger) *poll.Poller {
	return poll.New(source.NewRSSFetcher(cfg.Schedule.ParseFetchTimeout()), log,
		poll.WithConcurrency(cfg.Schedule.Concurrency),
		poll.WithFetchTimeout(cfg.Schedule.ParseFetchTimeout()),
		poll.WithBackfill(cfg.Schedule.Backfill),
	)
}

func runDaemon(addr string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.Server.Addr = addr
	}
	log := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()

	sink, err := buildSink(cfg, log)
	if err != nil {
		return err
	}
	prices := buildPriceClient(cfg)
	validator := price.NewCachedValidator(prices, cfg.Price.ParseCacheTTL())

	sched := scheduler.New(st,
		buildPoller(cfg, log),
		pricealert.New(prices, log, cfg.Price.ParseTimeout()),
		sink, log,
		scheduler.Config{
			FeedInterval:     cfg.Schedule.ParseFeedInterval(),
			PriceInterval:    cfg.Schedule.ParsePriceInterval(),
			HistoryRetention: cfg.Schedule.ParseHistoryRetention(),
		},
	)
	svc := admission.New(st, validator, log, admission.WithMaxFeeds(cfg.Limits.MaxFeedsPerTenant))

	log.Info().Str("store", cfg.Store.Driver).Str("notify", sink.Name()).
		Int("tenants", len(st.Tenants())).Int("alerts", len(st.Alerts())).Msg("pulsebot starting")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sched.Run(gctx) })
	if cfg.Server.Enabled {
		srv := server.New(svc, sched, prices, log, cfg.Server.Addr)
		g.Go(func() error { return srv.ListenAndServe(gctx) })
	}
	if path := configPath(); path != "" {
		g.Go(func() error {
			return config.Watch(gctx, path, log, hotApply(cfg, sched, log))
		})
	}

	sched.MarkReady()
	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Warn().Err(err).Msg("sd_notify ready")
	} else if ok {
		log.Debug().Msg("notified systemd")
	}

	err = g.Wait()
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	log.Info().Msg("pulsebot stopped")
	return err
}

// configPath is the file the daemon watches, empty when running on defaults.
func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if _, err := os.Stat(config.DefaultPath()); err == nil {
		return config.DefaultPath()
	}
	return ""
}

// hotApply returns the reload callback. Only the log level and the feed
// interval take effect without a restart. The interval is applied only when
// the file's value changed, so an interval set through the API survives
// unrelated edits.
func hotApply(initial *config.Config, sched *scheduler.Scheduler, log zerolog.Logger) func(*config.Config) {
	lastFeed := initial.Schedule.ParseFeedInterval()
	return func(next *config.Config) {
		logging.SetLevel(next.Log.Level)

		d := next.Schedule.ParseFeedInterval()
		if d == lastFeed {
			return
		}
		if err := sched.SetFeedInterval(context.Background(), d); err != nil {
			log.Warn().Err(err).Msg("feed interval not applied")
			return
		}
		lastFeed = d
		log.Info().Dur("feed_interval", d).Msg("feed interval updated")
	}
}

func runPoll(jsonOutput bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()

	deliveries, _ := buildPoller(cfg, log).PollOnce(ctx, st.Tenants(), st.History(), time.Now())

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(deliveries)
	}
	if len(deliveries) == 0 {
		fmt.Println("no new articles")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TENANT\tDESTINATION\tTITLE\tURL")
	for _, d := range deliveries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", d.Tenant, d.Destination, d.Notification.Title, d.Notification.URL)
	}
	return w.Flush()
}

func runPrice(asset string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	id := price.NormalizeID(asset)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Price.ParseTimeout())
	defer cancel()
	q, err := buildPriceClient(cfg).Quote(ctx, id)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Asset\t%s\n", pricealert.AssetTitle(id))
	fmt.Fprintf(w, "Price\t%s\n", notify.USD(q.USD))
	fmt.Fprintf(w, "24h Change\t%.2f%%\n", q.Change24h)
	fmt.Fprintf(w, "Market Cap\t%s\n", notify.USD(q.MarketCap))
	fmt.Fprintf(w, "24h Volume\t%s\n", notify.USD(q.Volume24h))
	return w.Flush()
}

func runTenants(jsonOutput bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	ctx := context.Background()

	st, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()

	svc := admission.New(st, buildPriceClient(cfg), log, admission.WithMaxFeeds(cfg.Limits.MaxFeedsPerTenant))
	tenants := st.Tenants()
	summaries := make([]admission.TenantSummary, 0, len(tenants))
	for _, t := range tenants {
		summaries = append(summaries, svc.Summary(t.ID))
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summaries)
	}
	if len(summaries) == 0 {
		fmt.Println("no tenants configured")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TENANT\t#\tDESTINATION\tURL\tKEYWORDS")
	for _, s := range summaries {
		if len(s.Feeds) == 0 {
			fmt.Fprintf(w, "%s\t-\t%s\t-\t-\n", s.ID, s.DefaultDestination)
			continue
		}
		for _, f := range s.Feeds {
			dest := f.Destination
			if dest == "" {
				dest = "(none)"
			}
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%d\n", s.ID, f.Index, dest, f.Subscription.URL, len(f.Subscription.Keywords))
		}
	}
	fmt.Fprintf(w, "\n%d alerts pending\n", len(st.Alerts()))
	return w.Flush()
}

func runCheck() error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	out, err := yaml.Marshal(cfg.Redacted())
	if err != nil {
		return err
	}
	os.Stdout.Write(out)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config:\n%w", err)
	}
	fmt.Fprintln(os.Stderr, "config ok")
	return nil
}
