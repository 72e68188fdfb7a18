package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/dyluth/warren/internal/config"
	"github.com/dyluth/warren/internal/logging"
	"github.com/dyluth/warren/internal/orchestrator"
	"github.com/dyluth/warren/pkg/blackboard"
	"github.com/redis/go-redis/v9"
)

const defaultConfigPath = "warren.yml"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load environment variables
	instanceName := os.Getenv("WARREN_INSTANCE_NAME")
	redisURL := os.Getenv("REDIS_URL")
	if instanceName == "" || redisURL == "" {
		return fmt.Errorf("WARREN_INSTANCE_NAME and REDIS_URL must be set")
	}

	opts := logging.FromEnv()
	opts.Instance = instanceName
	logging.Init(opts)
	logger := logging.Named("orchestrator")

	// 2. Load configuration; an absent default file means defaults
	cfg, err := loadConfig(os.Getenv("WARREN_CONFIG"))
	if err != nil {
		return err
	}

	// 3. Connect to the blackboard
	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		return fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client, err := blackboard.NewClient(redisOpts, instanceName)
	if err != nil {
		return fmt.Errorf("failed to create blackboard client: %w", err)
	}
	defer client.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := client.Ping(ctx); err != nil {
		return fmt.Errorf("redis not accessible: %w", err)
	}

	// 4. Run until signalled
	engine := orchestrator.NewEngine(client, cfg, logger)
	if err := engine.Run(ctx); err != nil {
		return fmt.Errorf("orchestrator failed: %w", err)
	}
	return nil
}

func loadConfig(path string) (*config.WarrenConfig, error) {
	explicit := path != ""
	if !explicit {
		path = defaultConfigPath
	}

	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if !explicit && errors.Is(err, fs.ErrNotExist) {
		return config.Default(), nil
	}
	return nil, err
}
