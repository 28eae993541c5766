package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

func TestParseEnvDefaults(t *testing.T) {
	var cfg Server
	require.NoError(t, ParseEnv(&cfg))
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, ":8080", cfg.Addr())
	assert.Equal(t, "info", cfg.Level)
	assert.Empty(t, cfg.DatabaseURL)
	assert.NoError(t, cfg.Validate())
}

func TestParseEnvError(t *testing.T) {
	t.Setenv("PORT", "not-an-int")
	var cfg Server
	err := ParseEnv(&cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse env:")
}

func TestClientFromEnv(t *testing.T) {
	t.Setenv("MEETING_TRANSPORT", "ws")
	t.Setenv("RELAY_USER", "@ann")
	t.Setenv("POLL_TIMEOUT", "250ms")

	var cfg Client
	require.NoError(t, ParseEnv(&cfg))
	assert.Equal(t, TransportWS, cfg.Transport)
	assert.Equal(t, 250*time.Millisecond, cfg.PollTimeout)
	assert.Equal(t, "http://localhost:8080", cfg.RelayURL)
	assert.NoError(t, cfg.Validate())
}

func TestClientValidate(t *testing.T) {
	cases := []struct {
		name string
		cfg  Client
		errs int
	}{
		{
			name: "matrix missing everything",
			cfg:  Client{Transport: TransportMatrix, PollTimeout: time.Second, Logging: Logging{Level: "info"}},
			errs: 4,
		},
		{
			name: "relay ok",
			cfg:  Client{Transport: TransportRelay, RelayURL: "http://r", RelayUser: "@a", PollTimeout: time.Second, Logging: Logging{Level: "debug"}},
			errs: 0,
		},
		{
			name: "unknown transport and bad level",
			cfg:  Client{Transport: "carrier-pigeon", PollTimeout: time.Second, Logging: Logging{Level: "loud"}},
			errs: 2,
		},
		{
			name: "zero poll timeout",
			cfg:  Client{Transport: TransportWS, RelayURL: "http://r", RelayUser: "@a", Logging: Logging{Level: "warn"}},
			errs: 1,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			assert.Len(t, multierr.Errors(err), tc.errs)
		})
	}
}

func TestServerValidate(t *testing.T) {
	err := Server{Port: 0, Logging: Logging{Level: "trace"}}.Validate()
	assert.Len(t, multierr.Errors(err), 2)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(path, []byte("MEETING_SYNC_TEST_A=from-file\nMEETING_SYNC_TEST_B=from-file\n"), 0o600))

	t.Setenv("MEETING_SYNC_TEST_B", "from-env")
	// Setenv registers a restore; this makes A restorable too.
	t.Setenv("MEETING_SYNC_TEST_A", "")
	require.NoError(t, os.Unsetenv("MEETING_SYNC_TEST_A"))

	require.NoError(t, LoadDotEnv(path, filepath.Join(dir, "missing.env")))
	assert.Equal(t, "from-file", os.Getenv("MEETING_SYNC_TEST_A"))
	assert.Equal(t, "from-env", os.Getenv("MEETING_SYNC_TEST_B"), "existing variables win")
}
