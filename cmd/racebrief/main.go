// Command racebrief runs the race weekend audio card service.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/tmcgrath/racebrief/assets"
	"github.com/tmcgrath/racebrief/internal/config"
	"github.com/tmcgrath/racebrief/internal/f1"
	"github.com/tmcgrath/racebrief/internal/logging"
	"github.com/tmcgrath/racebrief/internal/metrics"
	"github.com/tmcgrath/racebrief/internal/reconcile"
	"github.com/tmcgrath/racebrief/internal/store"
	"github.com/tmcgrath/racebrief/internal/web"
	"github.com/tmcgrath/racebrief/internal/yoto"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	log := logging.New(cfg.Log.Level, cfg.Log.Format)

	kv, err := store.OpenBadger(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer kv.Close()
	identity := store.NewIdentity(kv)

	yotoClient := newYotoClient(cfg)

	raceData := f1.NewClient(f1.Config{
		APIBase:  cfg.F1.APIBase,
		CacheURL: cfg.F1.CacheURL,
		UseCache: cfg.F1.UseCache,
		Timeout:  cfg.F1.Timeout,
	})

	m := metrics.New()

	refresher := reconcile.New(
		identity,
		yotoClient,
		func(accessToken string) reconcile.PlatformAPI {
			return yotoClient.WithToken(accessToken)
		},
		raceData,
		cfg.Yoto.VoiceID,
		log,
		reconcile.WithTTSMode(cfg.Yoto.TTSMode),
		reconcile.WithPolling(cfg.Poll.Interval, cfg.Poll.MaxWait),
		reconcile.WithArtwork(assets.Icon16, assets.Cover),
		reconcile.WithMetrics(m),
	)

	server := web.NewServer(web.ServerConfig{
		Addr:      cfg.Server.Addr,
		Yoto:      yotoClient,
		Identity:  identity,
		Refresher: refresher,
		Metrics:   m,
		Logger:    log,
	})

	return server.Run()
}

func newYotoClient(cfg *config.Config) *yoto.Client {
	return yoto.NewClient(yoto.Config{
		ClientID:    cfg.Yoto.ClientID,
		APIBase:     cfg.Yoto.APIBase,
		LoginBase:   cfg.Yoto.LoginBase,
		RedirectURI: cfg.Yoto.RedirectURI,
	})
}
