// Command turn-sweeper penalizes lapsed tickets outside the API process.
// It shares the sweep lease with the API so only one sweeper runs at a time.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"ms-turnos/internal/clock"
	"ms-turnos/internal/config"
	"ms-turnos/internal/database"
	"ms-turnos/internal/kafka"
	"ms-turnos/internal/lock"
	"ms-turnos/internal/logger"
	"ms-turnos/internal/notify"
	"ms-turnos/internal/penalties"
	turndb "ms-turnos/internal/turns/db"
	"ms-turnos/internal/turns/service"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "turn-sweeper: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()
	cfg := config.Load()

	var once bool
	flagSet := pflag.NewFlagSet("turn-sweeper", pflag.ContinueOnError)
	flagSet.BoolVar(&once, "once", false, "run a single sweep, print the report and exit")
	flagSet.DurationVar(&cfg.Turns.SweepInterval, "interval", cfg.Turns.SweepInterval, "time between sweeps")
	flagSet.DurationVar(&cfg.Turns.ClaimDeadline, "deadline", cfg.Turns.ClaimDeadline, "how long a pending ticket may wait before it is penalized")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	log := logger.NewLogger("turn-sweeper")
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
	var locker lock.Locker = lock.Noop{}
	if redisClient != nil {
		defer redisClient.Close()
		locker = lock.NewRedis(redisClient, log)
	}

	var publisher notify.Publisher = notify.Discard{}
	var bus *notify.Bus
	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka.Brokers, log)
		defer producer.Close()
		bus = notify.NewBus(0, log, &kafka.TurnEventSink{Producer: producer, Topic: cfg.Kafka.Topics.TurnChanged})
		publisher = bus
	}

	clk := clock.Real()
	sweeper := &service.Sweeper{
		DB:        db,
		Turns:     turndb.New(db),
		Penalties: penalties.NewLedger(db, clk, cfg.Turns.PenaltyLookback),
		Publisher: publisher,
		Clock:     clk,
		Deadline:  cfg.Turns.ClaimDeadline,
		Locker:    locker,
		Log:       log,
	}

	busCtx, stopBus := context.WithCancel(context.Background())
	busDone := make(chan struct{})
	if bus != nil {
		go func() {
			defer close(busDone)
			bus.Run(busCtx)
		}()
	} else {
		close(busDone)
	}
	// Cancelling busCtx makes Run drain the queued events before returning.
	defer func() {
		stopBus()
		<-busDone
	}()

	if once {
		report, err := sweeper.Sweep(ctx)
		if err != nil {
			return err
		}
		return json.NewEncoder(os.Stdout).Encode(report)
	}
	return sweeper.Run(ctx, cfg.Turns.SweepInterval)
}
