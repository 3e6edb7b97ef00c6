// Command portalbot runs the studio portal's Telegram bot.
package main

import (
	"context"
	"log"

	"github.com/m3rciful/portalbot/core/bootstrap"
	corecmd "github.com/m3rciful/portalbot/core/cmd"
	coreconfig "github.com/m3rciful/portalbot/core/config"
	"github.com/m3rciful/portalbot/internal/app"
)

func main() {
	err := corecmd.Run(corecmd.Options{
		ConfigEnvVar:      "CONFIG_PATH",
		DefaultConfigPath: "config.yaml",
		LoadConfig:        coreconfig.Load,
		Bootstrap: func(ctx context.Context, cfg *coreconfig.Config) (corecmd.TelegramApp, error) {
			return app.New(ctx, cfg, bootstrap.Options{})
		},
	})
	if err != nil {
		log.Fatal(err)
	}
}
