package config

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ip-rotator/pkg/gateway"
	"ip-rotator/pkg/retry"
)

func newViper(t *testing.T, yaml string) *viper.Viper {
	t.Helper()
	v := viper.New()
	Bind(v)
	if yaml != "" {
		v.SetConfigType("yaml")
		require.NoError(t, v.ReadConfig(strings.NewReader(yaml)))
	}
	return v
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(newViper(t, ""))
	require.NoError(t, err)

	assert.True(t, cfg.WaitAllRegions)
	assert.False(t, cfg.ClearAll)
	assert.Empty(t, cfg.Regions)
	assert.Equal(t, gateway.SystemAWS, cfg.ControlPlane.System)
	assert.Equal(t, retry.DefaultPolicy(), cfg.Retry)
	assert.Equal(t, 30*time.Second, cfg.HTTP.Timeout)
	assert.Equal(t, "https://ipinfo.io", cfg.IPInfoURL)
	assert.False(t, cfg.DatabaseEnabled)
	assert.Equal(t, 5432, cfg.Database.Port)
}

func TestLoad_File(t *testing.T) {
	v := newViper(t, `
target: https://origin.example
host_header: vhost.example
regions: [us-east-1, eu-west-1]
clear_all: true
wait_all_regions: false
aws:
  access_key_id: AKIDEXAMPLE
  secret_access_key: secret
retry:
  initial_delay: 1s
  max_delay: 10s
  multiplier: 2
  max_attempts: 4
  max_elapsed: 1m
control_plane:
  rps: 2.5
  burst: 3
http:
  transport: socks5://127.0.0.1:1080
  timeout: 5s
  follow_redirects: true
database:
  enabled: true
  user: rotator
  dbname: ledger
`)

	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, "https://origin.example", cfg.Target)
	assert.Equal(t, "vhost.example", cfg.HostHeader)
	assert.Equal(t, []string{"us-east-1", "eu-west-1"}, cfg.Regions)
	assert.True(t, cfg.ClearAll)
	assert.False(t, cfg.WaitAllRegions)
	assert.Equal(t, "AKIDEXAMPLE", cfg.ControlPlane.AccessKeyID)
	assert.Equal(t, "secret", cfg.ControlPlane.SecretAccessKey)
	assert.Equal(t, retry.Policy{
		InitialDelay: time.Second,
		MaxDelay:     10 * time.Second,
		Multiplier:   2,
		MaxAttempts:  4,
		MaxElapsed:   time.Minute,
	}, cfg.Retry)
	assert.Equal(t, 2.5, cfg.Pacing.RequestsPerSecond)
	assert.Equal(t, 3, cfg.Pacing.Burst)
	assert.Equal(t, "socks5://127.0.0.1:1080", cfg.HTTP.Transport)
	assert.Equal(t, 5*time.Second, cfg.HTTP.Timeout)
	assert.True(t, cfg.HTTP.FollowRedirects)
	assert.True(t, cfg.DatabaseEnabled)
	assert.Equal(t, "ledger", cfg.Database.DBName)
	assert.Equal(t, "localhost", cfg.Database.Host)

	p := cfg.Pool()
	assert.Equal(t, cfg.Target, p.Target)
	assert.True(t, p.ClearAllOnTeardown)
	assert.False(t, p.WaitAllRegions)
	assert.Equal(t, cfg.Retry, p.Retry)
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("IPROTATOR_TARGET", "https://env.example")
	t.Setenv("IPROTATOR_REGIONS", "us-east-1, eu-west-1")
	t.Setenv("IPROTATOR_RETRY_MAX_ATTEMPTS", "3")
	t.Setenv("AWS_ACCESS_KEY_ID", "AKIDENV")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "envsecret")
	t.Setenv("AWS_SESSION_TOKEN", "token")

	cfg, err := Load(newViper(t, "target: https://file.example\n"))
	require.NoError(t, err)

	assert.Equal(t, "https://env.example", cfg.Target)
	assert.Equal(t, []string{"us-east-1", "eu-west-1"}, cfg.Regions)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, "AKIDENV", cfg.ControlPlane.AccessKeyID)
	assert.Equal(t, "envsecret", cfg.ControlPlane.SecretAccessKey)
	assert.Equal(t, "token", cfg.ControlPlane.SessionToken)
}

func TestLoad_PrefixedCredentialsWin(t *testing.T) {
	t.Setenv("IPROTATOR_AWS_ACCESS_KEY_ID", "AKIDPREFIXED")
	t.Setenv("AWS_ACCESS_KEY_ID", "AKIDPLAIN")

	cfg, err := Load(newViper(t, ""))
	require.NoError(t, err)
	assert.Equal(t, "AKIDPREFIXED", cfg.ControlPlane.AccessKeyID)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{name: "multiplier", yaml: "retry:\n  multiplier: 0.5\n", want: "retry.multiplier"},
		{name: "attempts", yaml: "retry:\n  max_attempts: -1\n", want: "retry.max_attempts"},
		{name: "delay", yaml: "retry:\n  initial_delay: -1s\n", want: "retry delays"},
		{name: "rps", yaml: "control_plane:\n  rps: -1\n", want: "control_plane.rps"},
		{name: "database", yaml: "database:\n  enabled: true\n", want: "database.dbname"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(newViper(t, tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, splitList([]string{"a, b", "c"}))
	assert.Nil(t, splitList(nil))
	assert.Nil(t, splitList([]string{" , "}))
}
