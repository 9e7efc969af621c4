package main

import (
	"flag"

	"github.com/danmuck/flwrctl/internal/config"
	"github.com/danmuck/flwrctl/internal/observability"
	"github.com/rs/zerolog/log"
)

const defaultPath = "cmd/flwrclient/config.toml"

func main() {
	kind := flag.String("kind", "client", "config template: client|zeros")
	output := flag.String("output", defaultPath, "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.String("input", defaultPath, "config path for validation")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()
	observability.InitLogger("configgen")

	if *validate {
		cfg, err := config.Load(*input)
		if err != nil {
			log.Fatal().Err(err).Str("path", *input).Msg("config invalid")
		}
		log.Info().
			Str("path", *input).
			Str("server", cfg.ServerHost).
			Int("port", cfg.ServerPort).
			Str("capability", cfg.Capability).
			Msg("config valid")
		return
	}

	if err := config.WriteTemplate(*output, *kind, *force); err != nil {
		log.Fatal().Err(err).Msg("write template")
	}
	log.Info().Str("kind", *kind).Str("path", *output).Msg("wrote config template")
}
