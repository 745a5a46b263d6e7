// README: API server entrypoint: config, infra, module wiring, graceful shutdown.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"farebid/internal/config"
	httpapi "farebid/internal/http"
	"farebid/internal/infra"
	"farebid/internal/logging"
	"farebid/internal/modules/dispatch"
	"farebid/internal/modules/driver"
	"farebid/internal/modules/fare"
	"farebid/internal/modules/ride"
	"farebid/internal/notify"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New("info").Error("config", "err", err)
		os.Exit(1)
	}
	log := logging.New(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		log.Error("postgres", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb := infra.NewRedis(cfg.Redis.Addr)
	defer rdb.Close()

	verifier, msgClient, err := infra.NewFirebase(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile)
	if err != nil {
		log.Error("firebase", "err", err)
		os.Exit(1)
	}

	var routes fare.RouteSource
	if cfg.Maps.APIKey != "" {
		google, err := fare.NewGoogleRoutes(cfg.Maps.APIKey)
		if err != nil {
			log.Error("maps", "err", err)
			os.Exit(1)
		}
		routes = google
	} else {
		log.Warn("no maps key configured, using static route estimates")
		routes = fare.StaticRoutes{}
	}

	feed := ride.NewRedisFeed(rdb, log)
	hub := notify.NewWSHub()

	drivers := driver.NewService(driver.NewPGStore(db), log)
	oracle := fare.NewService(routes, fare.NewPGStore(db), log)
	rides := ride.NewService(ride.NewPGStore(db), feed, drivers, oracle, cfg.Dispatch.StaleOfferAfter, log)

	queue := notify.NewQueue(256, log, notify.NewFCMSender(msgClient, drivers), hub)
	scheduler := dispatch.NewScheduler(rides, drivers, feed, queue, cfg.Dispatch, log)
	drivers.SetListener(scheduler)

	go queue.Run(ctx)
	go scheduler.Run(ctx)

	router := httpapi.NewRouter(httpapi.ServerDeps{
		Rides:     rides,
		Drivers:   drivers,
		Scheduler: scheduler,
		Hub:       hub,
		Verifier:  verifier,
		Log:       log,
	})

	srv := &http.Server{Addr: cfg.HTTP.Addr, Handler: router}
	go func() {
		log.Info("listening", "addr", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown", "err", err)
	}
}
