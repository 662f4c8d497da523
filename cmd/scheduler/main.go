package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/marcelsud/webhook-dispatch/config"
	"github.com/marcelsud/webhook-dispatch/internal/app"
)

/*
Scheduler - standalone retry loop

Runs the same tick as the API's in-process scheduler, for deployments that
set RUN_SCHEDULER=false on the API and scale the scheduler separately.
Several instances may run at once: the per-delivery claim keeps each
delivery to one dispatch at a time.

  go run cmd/scheduler/main.go
*/

func main() {
	cfg, err := config.GetConfig()
	if err != nil {
		fmt.Println(err)
		return
	}
	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT,
	)
	defer stop()

	a, err := app.New(ctx, cfg, "webhook-scheduler")
	if err != nil {
		fmt.Println(err)
		return
	}
	defer a.Close(context.Background())

	s := a.NewScheduler()
	a.Logger.Info().
		Str("worker_id", s.WorkerID()).
		Dur("interval", cfg.GetSchedulerInterval()).
		Int("concurrency", cfg.SchedulerConcurrency).
		Msg("scheduler started")

	if err := s.Run(ctx); err != nil {
		fmt.Println(err)
		return
	}
	fmt.Printf("\nScheduler stopped\n")
}
