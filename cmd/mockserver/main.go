package main

import (
	"fmt"
	"net/http"
	"os"

	"go.uber.org/zap"

	"github.com/mfclarke-cnx/posthog-go/internal/logger"
	"github.com/mfclarke-cnx/posthog-go/internal/mockserver"
)

func main() {
	log, err := logger.New(os.Getenv("POSTHOG_ENVIRONMENT"))
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer func(log *zap.Logger) {
		err := log.Sync()
		if err != nil {
			log.Error("Failed to sync logger", zap.Error(err))
		}
	}(log)

	port := os.Getenv("MOCKSERVER_PORT")
	if port == "" {
		port = "8080"
	}

	h := mockserver.NewHandler(log)

	addr := fmt.Sprintf(":%s", port)
	log.Info("Mock server starting", zap.String("address", addr))

	if err := http.ListenAndServe(addr, h); err != nil {
		log.Fatal("Failed to start mock server", zap.Error(err))
	}
}
