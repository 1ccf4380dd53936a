package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/oauth2"

	"teamcal/internal/calendars"
	"teamcal/internal/config"
	"teamcal/internal/events"
	"teamcal/internal/feed"
	"teamcal/internal/ics"
	appLog "teamcal/internal/log"
	"teamcal/internal/oauth"
	"teamcal/internal/prefs"
	"teamcal/internal/registry"
	"teamcal/internal/store"
	"teamcal/internal/teamsnap"
	"teamcal/internal/web"
)

const version = "0.1.0"

type flagConfig struct {
	configPath string
	listen     string
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	conf.ApplyEnv()

	// CLI --listen overrides config file listen if provided.
	if flags.listen != "" && flags.listen != conf.Listen {
		derived := "http://" + conf.Listen
		conf.Listen = flags.listen
		// re-derive URLs that were defaulted from the old address
		if conf.PublicURL == derived {
			conf.PublicURL = ""
		}
		if conf.TeamSnap.RedirectURL == derived+"/auth/callback" {
			conf.TeamSnap.RedirectURL = ""
		}
		conf.Normalize()
	}
	if err := conf.Validate(); err != nil {
		appLog.Error("invalid config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	appLog.SetOutput(os.Stderr, conf.LogFormat == "console")
	if !appLog.SetLevel(conf.LogLevel) {
		appLog.Warn("unknown log level, using info", "log_level", conf.LogLevel)
	}
	appLog.Info("teamcal starting", "version", version)
	appLog.Info("effective config",
		"listen", conf.Listen,
		"public_url", conf.PublicURL,
		"timezone", conf.Timezone,
		"refresh", conf.RefreshCron,
		"store", conf.Store.Driver,
		"api_url", conf.TeamSnap.APIURL,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, conf); err != nil {
		appLog.Error("teamcal exited with error", err)
		os.Exit(1)
	}
	appLog.Info("teamcal exiting")
}

func run(ctx context.Context, conf *config.Config) error {
	kv, closeStore, err := openStore(ctx, conf.Store)
	if err != nil {
		return err
	}
	defer closeStore()

	loc, err := time.LoadLocation(conf.Timezone)
	if err != nil {
		appLog.Error("failed to load timezone; falling back to UTC", err, "name", conf.Timezone)
		loc = time.UTC
	}

	httpClient := &http.Client{Timeout: time.Duration(conf.TeamSnap.TimeoutSeconds) * time.Second}
	api := teamsnap.NewClient(conf.TeamSnap.APIURL, httpClient)
	session := oauth.NewManager(kv, &oauth2.Config{
		ClientID:     conf.TeamSnap.ClientID,
		ClientSecret: conf.TeamSnap.ClientSecret,
		RedirectURL:  conf.TeamSnap.RedirectURL,
		Scopes:       []string{"read"},
		Endpoint: oauth2.Endpoint{
			AuthURL:  conf.TeamSnap.AuthURL,
			TokenURL: conf.TeamSnap.TokenURL,
		},
	}, httpClient)

	reg := registry.New(kv, conf.Secret)
	teamPrefs := prefs.New(kv)
	cache := feed.NewCache(kv)

	feeds := feed.NewService(feed.Deps{
		Registry: reg,
		Tokens:   session,
		Events:   events.NewFetcher(api),
		Renderer: ics.NewRenderer(api, ics.Options{
			WebURL:          conf.TeamSnap.WebURL,
			DefaultLocation: loc,
		}),
		Teams: api,
		Prefs: teamPrefs,
		Cache: cache,
	})
	cals := calendars.NewService(session, api, reg, teamPrefs, cache, conf.PublicURL)

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(conf.RefreshCron, func() { keepAlive(ctx, session) }); err != nil {
		return err
	}
	scheduler.Start()
	defer scheduler.Stop()

	srv := &http.Server{
		Addr: conf.Listen,
		Handler: web.NewServer(conf, web.Deps{
			Feeds:     feeds,
			Calendars: cals,
			Session:   session,
			Users:     api,
		}).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+conf.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		appLog.Info("signal received, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// keepAlive refreshes the owner session before subscribers notice it lapsed.
func keepAlive(ctx context.Context, session *oauth.Manager) {
	if session.IsAuthenticated(ctx) {
		appLog.Debug("oauth session alive")
		return
	}
	appLog.Warn("oauth session lapsed; owner must sign in again at /auth/login")
}

func openStore(ctx context.Context, sc config.StoreConfig) (store.Store, func(), error) {
	if sc.Driver == "redis" {
		r, err := store.DialRedis(ctx, sc.RedisAddr, sc.RedisPassword, sc.RedisDB, sc.Prefix)
		if err != nil {
			return nil, nil, err
		}
		appLog.Info("using redis store", "addr", sc.RedisAddr, "db", sc.RedisDB, "prefix", sc.Prefix)
		return r, func() { _ = r.Close() }, nil
	}
	m := store.NewMemory()
	appLog.Info("using in-memory store; tokens and sessions are lost on restart")
	return m, func() { _ = m.Close() }, nil
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/teamcal/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")

	flag.Parse()

	return cfg
}
