package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/joho/godotenv"

	"doorknock/internal/config"
	"doorknock/internal/log"
	"doorknock/internal/server"
)

func main() {
	cfgPath := flag.String("config", "configs/server.json", "path to server config")
	level := flag.String("log-level", "", "override log_level of every route")
	flag.Parse()

	// .env is optional; real environment variables win
	_ = godotenv.Load()

	logger := log.New(*level)
	cfgs, err := config.LoadServerConfigs(*cfgPath)
	if err != nil {
		logger.Error("load config", "path", *cfgPath, "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	for i := range cfgs {
		cfg := cfgs[i]
		l := logger
		if *level == "" {
			l = log.New(cfg.LogLevel)
		}
		srv := server.New(cfg, l)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer cfg.Knock.Close()
			if err := srv.Start(ctx); err != nil {
				l.Error("route stopped", "route", cfg.Name, "error", err)
			}
		}()
	}
	wg.Wait()
}
