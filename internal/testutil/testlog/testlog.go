package testlog

import (
	"testing"

	"github.com/EgorLis/thinws/internal/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Start настраивает логи для тестов и возвращает логгер с именем теста.
func Start(t *testing.T) zerolog.Logger {
	t.Helper()
	logging.ConfigureTests()
	log.Info().Str("test", t.Name()).Msg("start")
	return log.Logger.With().Str("test", t.Name()).Logger()
}
