// Package config loads Amelia's process-level settings from the
// environment and an optional profiles.yaml file. It is deliberately thin
// and lives outside orchestrator/pipeline: the core never reads an
// environment variable directly, only the Config/workflow.Profile values
// this package produces at construction time (SPEC_FULL.md §1
// "Configuration").
//
// The env-loading idiom (envOr/envIntOr/envDurationOr helpers, one function
// per variable, documented in a package-level table) is grounded on the
// teacher's registry/cmd/registry/main.go, the only hand-rolled
// environment-configuration command in the corpus.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/amelia-dev/amelia/pipeline"

	"github.com/amelia-dev/amelia/orchestrator"
)

// Config holds every environment-sourced setting needed to wire
// cmd/amelia-server (SPEC_FULL.md §1 "Configuration"). Fields map 1:1 onto
// the environment variables documented in Load's doc comment.
type Config struct {
	// HTTPAddr is the REST listen address, e.g. ":8080".
	HTTPAddr string
	// WSAddr is the WebSocket listen address. Defaults to HTTPAddr when
	// empty, since spec.md §4.5 describes /ws/events as a path on the same
	// server as the REST surface; a deployer can still split them by
	// setting WS_ADDR explicitly.
	WSAddr string

	// PostgresDSN is the application database connection string backing
	// repo/postgres (spec.md §6 "Persistence layout").
	PostgresDSN string

	// MongoURI and MongoDatabase back checkpoint/mongodoc, a separate
	// database/connection from PostgresDSN by design (SPEC_FULL.md §4.3:
	// replan's purge_checkpoints must never touch workflow/event rows).
	MongoURI      string
	MongoDatabase string

	// MaxConcurrentWorkflows caps simultaneously non-terminal workflows
	// (spec.md §4.4 "default 5").
	MaxConcurrentWorkflows int
	// CancelGracePeriod bounds how long Cancel waits for cooperative
	// shutdown before forcing a transition (spec.md §4.4 "e.g., 5 s").
	CancelGracePeriod time.Duration
	// MaxPipelineSteps is the per-run safety net against cyclic graphs
	// (SPEC_FULL.md §4.3, default 200).
	MaxPipelineSteps int
	// WebsocketQueueDepth bounds each /ws/events connection's outbound
	// buffer (spec.md §4.5 "bounded outbound queue").
	WebsocketQueueDepth int

	// ProfilesPath is the optional profiles.yaml path (cmd/amelia-server
	// loads a FileProfileStore only when it is set; see LoadProfiles).
	ProfilesPath string
}

// Load reads Config from the environment:
//
//	HTTP_ADDR                  REST listen address (default ":8080")
//	WS_ADDR                    WebSocket listen address (default: HTTP_ADDR)
//	POSTGRES_DSN               application database DSN (required)
//	MONGO_URI                  checkpoint store connection URI (required)
//	MONGO_DATABASE             checkpoint store database name (default "amelia")
//	MAX_CONCURRENT_WORKFLOWS   concurrency cap (default 5)
//	CANCEL_GRACE_PERIOD        e.g. "5s" (default 5s)
//	MAX_PIPELINE_STEPS         per-run step safety net (default 200)
//	WEBSOCKET_QUEUE_DEPTH      per-connection outbound buffer (default 256)
//	PROFILES_PATH              profiles.yaml path (optional)
func Load() (Config, error) {
	cfg := Config{
		HTTPAddr:               envOr("HTTP_ADDR", ":8080"),
		WSAddr:                 os.Getenv("WS_ADDR"),
		PostgresDSN:            os.Getenv("POSTGRES_DSN"),
		MongoURI:               os.Getenv("MONGO_URI"),
		MongoDatabase:          envOr("MONGO_DATABASE", "amelia"),
		MaxConcurrentWorkflows: envIntOr("MAX_CONCURRENT_WORKFLOWS", orchestrator.DefaultMaxConcurrentWorkflows),
		CancelGracePeriod:      envDurationOr("CANCEL_GRACE_PERIOD", orchestrator.DefaultCancelGracePeriod),
		MaxPipelineSteps:       envIntOr("MAX_PIPELINE_STEPS", pipeline.DefaultMaxPipelineSteps),
		WebsocketQueueDepth:    envIntOr("WEBSOCKET_QUEUE_DEPTH", 256),
		ProfilesPath:           os.Getenv("PROFILES_PATH"),
	}
	if cfg.WSAddr == "" {
		cfg.WSAddr = cfg.HTTPAddr
	}
	if cfg.PostgresDSN == "" {
		return Config{}, fmt.Errorf("config: POSTGRES_DSN is required")
	}
	if cfg.MongoURI == "" {
		return Config{}, fmt.Errorf("config: MONGO_URI is required")
	}
	return cfg, nil
}

func envOr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envIntOr(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func envDurationOr(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
