package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/yardsale/internal/economy"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "yardsale.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	assert.Equal(t, 100, c.Simulation.People)
	assert.Equal(t, 200*time.Millisecond, c.Cadence())
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
simulation:
  people: 500
  plays_per_tick: 10
  initial_amount: 50
  gain_pct: 25
  loss_pct: 20
  distribution: noise
  spread: 0.3
cadence_ms: 0
entropy:
  seed: 1234
storage:
  db_path: ""
log_level: debug
`)
	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 500, c.Simulation.People)
	assert.Equal(t, economy.DistNoise, c.Simulation.Distribution)
	assert.Equal(t, 0.3, c.Simulation.Spread)
	assert.Equal(t, time.Duration(0), c.Cadence())
	assert.Equal(t, uint64(1234), c.Entropy.Seed)
	assert.Equal(t, "seeded", c.Entropy.Source)
	assert.Empty(t, c.Storage.DBPath)
	assert.Equal(t, "data/frames", c.Storage.FrameLogDir)
	assert.Equal(t, 8080, c.API.Port)
}

func TestLoadRejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"unknown key":  "simulation:\n  persons: 3\n",
		"bad params":   "simulation:\n  gain_pct: 150\n",
		"bad source":   "entropy:\n  source: dice\n",
		"bad share":    "oligarch_share: 2\n",
		"bad level":    "log_level: loud\n",
		"bad cadence":  "cadence_ms: -1\n",
		"invalid yaml": "simulation: [\n",
	}
	for name, body := range cases {
		_, err := Load(writeConfig(t, body))
		assert.Error(t, err, name)
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestEnvSecrets(t *testing.T) {
	t.Setenv("YARDSALE_ADMIN_KEY", "s3cret")
	t.Setenv("RANDOM_ORG_API_KEY", "abc")
	c := Default()
	assert.Equal(t, "s3cret", c.AdminKey())
	assert.Equal(t, "abc", c.EntropyKey())
}

func TestParseLevel(t *testing.T) {
	l, err := ParseLevel("WARN")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, l)

	l, err = ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, l)
}

func TestExampleConfigLoads(t *testing.T) {
	c, err := Load(filepath.Join("..", "..", "config.example.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
}
