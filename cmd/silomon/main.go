// Silomon polls silo level sensors over Modbus RTU, persists accepted
// readings to the ERP database and alerts operators when devices go dark.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mip-automation/silomon/internal/config"
	"github.com/mip-automation/silomon/internal/service"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the JSON configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log := service.NewLogger(cfg.Logging)

	svc, err := service.New(cfg, log)
	if err != nil {
		log.WithError(err).Error("startup failed")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := svc.Run(ctx); err != nil {
		os.Exit(1)
	}
}
