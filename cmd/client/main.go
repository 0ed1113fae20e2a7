package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/joho/godotenv"

	"doorknock/internal/client"
	"doorknock/internal/config"
	"doorknock/internal/log"
)

func main() {
	cfgPath := flag.String("config", "configs/client.yaml", "path to client config")
	level := flag.String("log-level", "", "override log_level of every endpoint")
	once := flag.Bool("once", false, "knock every endpoint once and exit")
	flag.Parse()

	_ = godotenv.Load()

	logger := log.New(*level)
	cfgs, err := config.LoadClientConfigs(*cfgPath)
	if err != nil {
		logger.Error("load config", "path", *cfgPath, "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	failed := make(chan struct{}, len(cfgs))
	for i := range cfgs {
		cfg := cfgs[i]
		l := logger
		if *level == "" {
			l = log.New(cfg.LogLevel)
		}
		cl := client.New(cfg, l)
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer cfg.Knock.Close()
			var err error
			if *once || cfg.BindPort == 0 {
				err = cl.Knock(ctx)
			} else {
				err = cl.Start(ctx)
			}
			if err != nil {
				l.Error("endpoint stopped", "endpoint", cfg.Name, "error", err)
				failed <- struct{}{}
			}
		}()
	}
	wg.Wait()
	if len(failed) > 0 {
		os.Exit(1)
	}
}
