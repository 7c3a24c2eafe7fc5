package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"

	"github.com/progrium/hydna-go/frame"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hydna.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	c, err := load("", nil)
	require.NoError(t, err)
	require.Equal(t, Default(), *c)

	c, err = load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	require.NoError(t, err)
	require.Equal(t, Default(), *c)
}

func TestLoadFile(t *testing.T) {
	path := writeFile(t, `
protocol: 2
max_redirects: 3
follow_redirects: false
dial_timeout: 250ms
close_timeout: 1m
listen: true
log_level: debug
`)
	c, err := load(path, nil)
	require.NoError(t, err)
	require.Equal(t, 2, c.Protocol)
	require.Equal(t, 3, c.MaxRedirects)
	require.False(t, c.FollowRedirects)
	require.Equal(t, 250*time.Millisecond, c.DialTimeout)
	require.Equal(t, 10*time.Second, c.HandshakeTimeout)
	require.Equal(t, time.Minute, c.CloseTimeout)
	require.True(t, c.Listen)
	require.Equal(t, hclog.Debug, c.Level())
}

func TestLoadEnvironment(t *testing.T) {
	path := writeFile(t, "dial_timeout: 1s\nlog_level: warn\n")
	c, err := load(path, []string{
		"HYDNA_DIAL_TIMEOUT=2s",
		"HYDNA_MAX_REDIRECTS=1",
		"HYDNA_TLS_INSECURE=true",
		"HYDNA_NOT_A_SETTING=x",
		"PATH=/bin",
	})
	require.NoError(t, err)
	require.Equal(t, 2*time.Second, c.DialTimeout)
	require.Equal(t, 1, c.MaxRedirects)
	require.True(t, c.TLSInsecure)
	require.Equal(t, "warn", c.LogLevel)
}

func TestLoadErrors(t *testing.T) {
	for name, body := range map[string]string{
		"unknown key":      "colour: blue\n",
		"bad duration":     "dial_timeout: soon\n",
		"unknown protocol": "protocol: 9\n",
		"bad log level":    "log_level: loud\n",
		"negative":         "max_redirects: -1\n",
		"not yaml":         "protocol: [\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := load(writeFile(t, body), nil)
			require.Error(t, err)
		})
	}
}

func TestOptions(t *testing.T) {
	c := Default()
	c.FollowRedirects = false
	c.Protocol = int(frame.Version1.Version)
	logger := hclog.NewNullLogger()

	opts := c.Options(logger)
	require.Equal(t, logger, opts.Logger)
	require.True(t, opts.NoFollowRedirects)
	require.Equal(t, frame.Version1.Version, opts.Protocol)
	require.Equal(t, c.CloseTimeout, opts.CloseTimeout)
	require.Nil(t, opts.Dialer)

	c.TLSInsecure = true
	require.NotNil(t, c.Options(logger).Dialer)
}
