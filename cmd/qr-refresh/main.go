// Command qr-refresh keeps a valid rotating code on every venue display.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"ms-turnos/internal/clock"
	"ms-turnos/internal/config"
	"ms-turnos/internal/database"
	"ms-turnos/internal/directory"
	"ms-turnos/internal/lock"
	"ms-turnos/internal/logger"
	"ms-turnos/internal/qr"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "qr-refresh: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()
	cfg := config.Load()

	var once bool
	flagSet := pflag.NewFlagSet("qr-refresh", pflag.ContinueOnError)
	flagSet.BoolVar(&once, "once", false, "refresh every venue once and exit")
	flagSet.DurationVar(&cfg.Turns.QRRefreshInterval, "interval", cfg.Turns.QRRefreshInterval, "time between refreshes")
	flagSet.DurationVar(&cfg.Turns.QRTTL, "ttl", cfg.Turns.QRTTL, "validity of newly issued codes")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	log := logger.NewLogger("qr-refresh")
	defer log.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Connect(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer db.Close()

	redisClient, err := database.ConnectRedis(ctx, cfg.Redis, log)
	if err != nil {
		return err
	}

	var (
		locker lock.Locker = lock.Noop{}
		cache  qr.Cache
	)
	if redisClient != nil {
		defer redisClient.Close()
		locker = lock.NewRedis(redisClient, log)
		cache = qr.NewRedisCache(redisClient)
	}

	refresher := &qr.Refresher{
		Generator: qr.NewGenerator(db, cache, clock.Real(), cfg.Turns.QRTTL, log),
		Venues:    directory.NewVenues(db),
		Locker:    locker,
		Log:       log,
	}

	if once {
		n, err := refresher.RefreshAll(ctx)
		log.Info("QR", fmt.Sprintf("Refreshed %d venues", n))
		return err
	}
	return refresher.Run(ctx, cfg.Turns.QRRefreshInterval)
}
