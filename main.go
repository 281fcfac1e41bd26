package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/krantius/ring-election/election"
	"github.com/krantius/ring-election/shared/logging"
)

func main() {
	if os.Getenv("DEBUG") != "" {
		logging.SetLevel(logging.DEBUG)
	}

	cfg, err := LoadConfig()
	if err != nil {
		logging.Errorf("Config error: %v", err)
		os.Exit(1)
	}

	hosts, err := election.LoadHosts(cfg.HostsFile)
	if err != nil {
		logging.Errorf("Loading hosts failed: %v", err)
		os.Exit(1)
	}

	dir, err := election.NewDirectory(hosts)
	if err != nil {
		logging.Errorf("Building ring failed: %v", err)
		os.Exit(1)
	}

	node, err := election.Listen(cfg.Election, dir, cfg.Index)
	if err != nil {
		logging.Errorf("Starting site %d failed: %v", cfg.Index, err)
		os.Exit(1)
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.APIPort),
		Handler: node.Router(),
	}

	go func() {
		logging.Infof("API listening on port %d...", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Errorf("API error: %v", err)
		}
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)

	<-c

	logging.Info("Shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	server.Shutdown(ctx)

	if err := node.Close(); err != nil {
		logging.Errorf("Close failed: %v", err)
	}
}
