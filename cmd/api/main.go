package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/marcelsud/webhook-dispatch/config"
	"github.com/marcelsud/webhook-dispatch/internal/app"
	"github.com/marcelsud/webhook-dispatch/internal/http/chi"
	"github.com/marcelsud/webhook-dispatch/metrics"
)

const TIMEOUT = 30 * time.Second

/*
 * main wires everything and is the only place that decides how errors reach the operator.
 * Imports go one way only, downward: the binaries import the service, the service imports storage.
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

	a, err := app.New(ctx, cfg, "webhook-dispatch")
	if err != nil {
		fmt.Println(err)
		return
	}
	defer a.Close(context.Background())

	exporter, err := metrics.NewOTelExporter(a.Collector, a.Registry)
	if err != nil {
		fmt.Println(err)
		return
	}
	defer exporter.Shutdown(context.Background())

	schedulerDone := make(chan error, 1)
	if cfg.RunScheduler {
		s := a.NewScheduler()
		go func() { schedulerDone <- s.Run(ctx) }()
	} else {
		schedulerDone <- nil
	}

	r := chi.Handlers(ctx, a.Service, a.Logger)
	http.Handle("/", r)
	http.Handle("/metrics", exporter.ServeHTTP())
	srv := &http.Server{
		ReadTimeout:  30 * time.Second,
		WriteTimeout: chi.RequestTimeout + 5*time.Second,
		Addr:         ":" + cfg.Port,
		Handler:      http.DefaultServeMux,
	}

	errShutdown := make(chan error, 1)
	go shutdown(srv, ctx, errShutdown)
	a.Logger.Info().Str("port", cfg.Port).Bool("scheduler", cfg.RunScheduler).Msg("listening")
	err = srv.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		fmt.Println(err)
		return
	}
	err = <-errShutdown
	if err != nil {
		fmt.Println(err)
		return
	}
	if err := <-schedulerDone; err != nil {
		fmt.Println(err)
	}
}

func shutdown(server *http.Server, ctxShutdown context.Context, errShutdown chan error) {
	<-ctxShutdown.Done()

	ctxTimeout, stop := context.WithTimeout(context.Background(), TIMEOUT)
	defer stop()

	err := server.Shutdown(ctxTimeout)
	switch err {
	case nil:
		fmt.Printf("\nShutting down server...\n")
		errShutdown <- nil
	case context.DeadlineExceeded:
		errShutdown <- fmt.Errorf("Forcing closing the server")
	default:
		errShutdown <- fmt.Errorf("Forcing closing the server")
	}
}
