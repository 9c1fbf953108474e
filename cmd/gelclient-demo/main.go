// Command gelclient-demo wires a gel.Client to the operator-facing API
// surface in internal/api: load config, dial lazily through a pool, serve
// /status, /config, /pool, /health and /metrics, and run one demo query on
// startup so the wiring can be checked end to end.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/geldb/gelclient"
	"github.com/geldb/gelclient/internal/api"
	"github.com/geldb/gelclient/internal/config"
)

func main() {
	configPath := flag.String("config", "configs/gelclient-demo.yaml", "path to configuration file")
	apiBind := flag.String("api-bind", "127.0.0.1", "address the operator API binds to")
	apiPort := flag.Int("api-port", 8080, "port the operator API listens on")
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Printf("gelclient-demo starting...")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Printf("Configuration loaded from %s (host=%s database=%s)", *configPath, cfg.Host, cfg.Database)

	client, err := gel.New(*cfg)
	if err != nil {
		log.Fatalf("Failed to build client: %v", err)
	}

	apiServer := api.NewServer(client.Pool(), client.Metrics(), *cfg)
	if err := apiServer.Start(*apiBind, *apiPort); err != nil {
		log.Fatalf("Failed to start API server: %v", err)
	}

	configWatcher, err := config.NewWatcher(*configPath, func(newCfg *config.Config) {
		log.Printf("Reloading configuration (note: only affects the API's reported config; the pool keeps its original dial settings until restart)...")
	})
	if err != nil {
		log.Printf("Warning: config hot-reload not available: %v", err)
	}

	if n, err := runDemoQuery(client); err != nil {
		log.Printf("Demo query failed: %v", err)
	} else {
		log.Printf("Demo query returned %d row(s)", n)
	}

	log.Printf("gelclient-demo ready - API:%d", *apiPort)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("Received signal %s, shutting down...", sig)

	if configWatcher != nil {
		configWatcher.Stop()
	}
	apiServer.Stop()
	client.Close()

	log.Printf("gelclient-demo stopped")
}

func runDemoQuery(client *gel.Client) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rows, err := gel.Query[int64](ctx, client, "select {1, 2, 3}", nil)
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}
