package migration

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrationsAreReadable(t *testing.T) {
	src, err := Source()
	require.NoError(t, err)
	t.Cleanup(func() { _ = src.Close() })

	version, err := src.First()
	require.NoError(t, err)
	require.Equal(t, uint(1), version)

	up, _, err := src.ReadUp(version)
	require.NoError(t, err)
	body, err := io.ReadAll(up)
	require.NoError(t, err)
	_ = up.Close()
	require.True(t, strings.Contains(string(body), "ux_payment_intents_open"))
	require.True(t, strings.Contains(string(body), "INSERT INTO ledger_platform"))

	down, _, err := src.ReadDown(version)
	require.NoError(t, err)
	_ = down.Close()
}

func TestRunMigrationsRequiresHandle(t *testing.T) {
	require.Error(t, RunMigrations(nil))
}
