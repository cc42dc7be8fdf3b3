package logging_test

import (
	"testing"

	"github.com/longanisha/Mahidol-Forum-sub000/internal/logging"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestSetupLevel(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.TraceLevel)

	logging.Setup("debug", false)
	require.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())

	logging.Setup("nonsense", false)
	require.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}
