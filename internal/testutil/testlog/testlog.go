package testlog

import (
	"testing"

	"github.com/danmuck/hackgame/internal/logging"
	"github.com/rs/zerolog/log"
)

// Start configures test logging once and marks the beginning of t in the log.
func Start(t *testing.T) {
	t.Helper()
	logging.ConfigureTests()
	log.Info().Str("test", t.Name()).Msg("test start")
}
