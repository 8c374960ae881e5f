// Command escrowbot runs the gift escrow Telegram bot.
package main

import (
	"errors"
	"fmt"
	"log"

	"github.com/fihsr/giftescrow/core/cmd"
	"github.com/fihsr/giftescrow/internal/app"
	"github.com/fihsr/giftescrow/internal/config"
)

func main() {
	err := cmd.Run(cmd.Options{
		LoadConfig: func(path string) (cmd.ConfigCarrier, error) {
			cfg, err := config.Load(path)
			if err != nil {
				return nil, err
			}
			return cfg, nil
		},
		Bootstrap: func(carrier cmd.ConfigCarrier) (cmd.TelegramApp, error) {
			cfg, ok := carrier.(*config.Config)
			if !ok {
				return nil, errors.New("unexpected config type")
			}
			a, err := app.New(cfg, app.Options{})
			if err != nil {
				return nil, fmt.Errorf("wire: %w", err)
			}
			return a, nil
		},
	})
	if err != nil {
		log.Fatalf("escrowbot: %v", err)
	}
}
