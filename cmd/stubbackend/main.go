// Stubbackend is a throwaway HTTP backend for exercising the gateway
// locally. It answers every path with a JSON echo, exposes
// /actuator/health, and can be told to fail or stall so the circuit
// breaker can be driven open and closed by hand.
//
// Usage:
//
//	go run ./cmd/stubbackend -port 8082 -name flights
//	curl -X POST 'localhost:8082/_stub?mode=fail'
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/angeloszaimis/edge-gateway/internal/httpserver"
	"github.com/angeloszaimis/edge-gateway/pkg/logger"
)

func main() {
	var (
		port  = flag.Int("port", 8081, "port to listen on")
		name  = flag.String("name", "backend1", "backend name reported in responses")
		mode  = flag.String("mode", ModeOK, "initial mode: ok, fail or slow")
		delay = flag.Duration("delay", 0, "stall duration in slow mode (0 means until the client gives up)")
	)
	flag.Parse()

	log := logger.New("info", false, "dev").With(slog.String("backend", *name))

	stub, err := NewStub(*name, *mode, *delay, log)
	if err != nil {
		log.Error("Invalid flags", slog.Any("err", err))
		os.Exit(2)
	}

	srv, err := httpserver.New(fmt.Sprintf(":%d", *port), stub.Router(), httpserver.Timeouts{}, log)
	if err != nil {
		log.Error("Failed to create server", slog.Any("err", err))
		os.Exit(1)
	}

	log.Info("Starting stub backend", slog.Int("port", *port), slog.String("mode", *mode))
	if err := srv.Start(); err != nil {
		log.Error("Server failed", slog.Any("err", err))
		os.Exit(1)
	}
}
