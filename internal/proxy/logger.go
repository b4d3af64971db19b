package proxy

import (
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/omarluq/cc-router/internal/config"
)

// SetupLogging configures the global zerolog logger from config. Console
// format is only used on a real terminal; redirected output stays JSON so it
// machine-parses.
func SetupLogging(cfg config.LoggingConfig) {
	zerolog.SetGlobalLevel(cfg.ParseLevel())
	zerolog.TimeFieldFormat = time.RFC3339Nano

	if cfg.Format == "console" && isatty.IsTerminal(os.Stderr.Fd()) {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.Kitchen,
		})
		return
	}
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
}
