package commands

import (
	"context"
	"os"
	"pyrite/config"

	log "github.com/sirupsen/logrus"
)

// RunInit writes a default configuration unless one already exists
func RunInit(ctx context.Context, cfg *config.Config, configFile string) {
	if _, err := os.Stat(configFile); err == nil {
		log.Fatalf("Config file %s already exists", configFile)
	}

	if err := cfg.Save(); err != nil {
		log.Fatalf("Failed to save config: %v", err)
	}
	log.Infof("Wrote default config to %s", configFile)
}
