package main

import (
	"context"
	"errors"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/arklim/platform-authz/internal/infra/app"
	"github.com/arklim/platform-authz/internal/infra/config"
)

// envFilesVar lists comma separated dotenv files read before the AUTHZ_* variables.
const envFilesVar = "AUTHZ_ENV_FILES"

func main() {
	if err := loadEnvFiles(os.Getenv(envFilesVar)); err != nil {
		log.Fatalf("authz: read env files: %v", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("authz: load policy engine config: %v", err)
	}
	log.Printf("authz: starting %s (env=%s, change transport=%s, owners=%d)",
		cfg.App.Name, cfg.App.Env, cfg.Channels.Transport, len(cfg.App.Owners))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	engine, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("authz: init policy engine: %v", err)
	}

	if err := engine.Run(ctx); err != nil {
		log.Printf("authz: policy engine stopped: %v", err)
		os.Exit(1)
	}
}

// loadEnvFiles reads the named dotenv files, or .env when none are named. A missing
// default .env is not an error; a missing named file is.
func loadEnvFiles(list string) error {
	var files []string
	for _, name := range strings.Split(list, ",") {
		if name = strings.TrimSpace(name); name != "" {
			files = append(files, name)
		}
	}
	if len(files) == 0 {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return nil
	}
	return godotenv.Load(files...)
}
