package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/flwrctl/internal/capabilities"
	"github.com/danmuck/flwrctl/internal/observability"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

func main() {
	configPath := flag.String("config", "cmd/flwrclient/config.toml", "client config path")
	envPath := flag.String("env", ".env", "optional dotenv file")
	capability := flag.String("capability", "", "override the configured builtin capability")
	list := flag.Bool("list", false, "list builtin capabilities and exit")
	flag.Parse()

	if err := godotenv.Load(*envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		os.Stderr.WriteString("flwrclient: " + err.Error() + "\n")
		os.Exit(1)
	}
	observability.InitLogger("flwrclient")

	if *list {
		for _, meta := range capabilities.Default().ListMetadata() {
			log.Info().Str("id", meta.ID).Str("name", meta.Name).Msg(meta.Description)
		}
		return
	}

	cfg, err := loadClientConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *configPath).Msg("config")
	}
	if *capability != "" {
		cfg.Capability = *capability
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRunner(cfg).run(ctx); err != nil {
		log.Fatal().Err(err).Msg("flwrclient stopped")
	}
	log.Info().Msg("flwrclient stopped")
}
