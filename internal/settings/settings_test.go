package settings

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetDefaultsWhenUnset(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "settings.json"))
	require.NoError(t, err)

	assert.Equal(t, 5.0, s.GetFloat("daily_budget", 5.0))
	assert.True(t, s.GetBool("enabled", true))
	assert.Equal(t, "x", s.GetString("missing", "x"))
}

func TestSetPersistsAcrossOpens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Set("daily_budget", 2.5))
	require.NoError(t, s.Set("display", ":0.0"))

	reopened, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, 2.5, reopened.GetFloat("daily_budget", 0))
	assert.Equal(t, ":0.0", reopened.GetString("display", ""))
}

func TestWatchNotifiedOnSet(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "settings.json"))
	require.NoError(t, err)

	var gotKey string
	var gotVal any
	s.Watch(func(key string, value any) {
		gotKey, gotVal = key, value
	})

	require.NoError(t, s.Set("capture_rate", 1.0))
	assert.Equal(t, "capture_rate", gotKey)
	assert.Equal(t, 1.0, gotVal)
}

func TestCorruptFileFailsOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte("{broken"), 0o600))

	_, err := Open(path)
	assert.Error(t, err)
}
