package main

import (
	"fmt"

	"go.uber.org/zap"

	posthog "github.com/mfclarke-cnx/posthog-go"
	"github.com/mfclarke-cnx/posthog-go/internal/logger"
)

func main() {
	cfg, err := posthog.LoadConfig()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	log, err := logger.New(cfg.Client.Environment)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer func(log *zap.Logger) {
		err := log.Sync()
		if err != nil {
			log.Error("Failed to sync logger", zap.Error(err))
		}
	}(log)

	log.Info("Starting demo",
		zap.String("endpoint", cfg.Client.Endpoint))

	client, err := posthog.New(cfg, posthog.WithLogger(log))
	if err != nil {
		log.Fatal("Failed to create client", zap.Error(err))
	}
	defer client.Close()

	// Wait for the initial flag fetch so captures carry flag state.
	updated := client.OnFeatureFlagsUpdated()
	<-updated

	client.Register(map[string]any{"app_version": "1.4.2"})
	client.Identify("demo_user", map[string]any{"plan": "trial"}, nil)

	if client.IsFeatureEnabled("new-checkout") {
		log.Info("new-checkout is enabled",
			zap.Any("payload", client.GetFeatureFlagPayload("new-checkout")))
	}

	client.Capture("purchase", map[string]any{
		"amount":   9.99,
		"currency": "USD",
	})
	client.Screen("Receipt", nil)

	client.Flush()
	log.Info("Demo events captured")
}
