// Package config loads the rotator settings from viper into typed structs.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"ip-rotator/pkg/database"
	"ip-rotator/pkg/fetch"
	"ip-rotator/pkg/gateway"
	"ip-rotator/pkg/ipinfo"
	"ip-rotator/pkg/pool"
	"ip-rotator/pkg/ratelimit"
	"ip-rotator/pkg/retry"
)

// EnvPrefix prefixes every environment override, e.g. IPROTATOR_TARGET.
const EnvPrefix = "IPROTATOR"

type Config struct {
	Target         string
	HostHeader     string
	Regions        []string
	ClearAll       bool
	Verbose        bool
	WaitAllRegions bool

	ControlPlane gateway.Config
	Retry        retry.Policy
	Pacing       ratelimit.Config
	HTTP         fetch.Options

	IPInfoURL   string
	IPInfoToken string

	DatabaseEnabled bool
	Database        database.Config
}

// Bind registers defaults and environment overrides on v. The standard AWS
// credential variables are honored next to the prefixed ones.
func Bind(v *viper.Viper) {
	policy := retry.DefaultPolicy()

	v.SetDefault("wait_all_regions", true)
	v.SetDefault("control_plane.system", string(gateway.SystemAWS))
	v.SetDefault("control_plane.rps", 0)
	v.SetDefault("control_plane.burst", 1)
	v.SetDefault("retry.initial_delay", policy.InitialDelay)
	v.SetDefault("retry.max_delay", policy.MaxDelay)
	v.SetDefault("retry.multiplier", policy.Multiplier)
	v.SetDefault("retry.max_attempts", policy.MaxAttempts)
	v.SetDefault("retry.max_elapsed", policy.MaxElapsed)
	v.SetDefault("http.timeout", fetch.DefaultTimeout)
	v.SetDefault("ipinfo.url", ipinfo.DefaultURL)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("aws.access_key_id", EnvPrefix+"_AWS_ACCESS_KEY_ID", "AWS_ACCESS_KEY_ID")
	_ = v.BindEnv("aws.secret_access_key", EnvPrefix+"_AWS_SECRET_ACCESS_KEY", "AWS_SECRET_ACCESS_KEY")
	_ = v.BindEnv("aws.session_token", EnvPrefix+"_AWS_SESSION_TOKEN", "AWS_SESSION_TOKEN")
}

// Load reads the settings from v.
func Load(v *viper.Viper) (Config, error) {
	cfg := Config{
		Target:         v.GetString("target"),
		HostHeader:     v.GetString("host_header"),
		Regions:        splitList(v.GetStringSlice("regions")),
		ClearAll:       v.GetBool("clear_all"),
		Verbose:        v.GetBool("verbose"),
		WaitAllRegions: v.GetBool("wait_all_regions"),
		ControlPlane: gateway.Config{
			System:          gateway.System(v.GetString("control_plane.system")),
			AccessKeyID:     v.GetString("aws.access_key_id"),
			SecretAccessKey: v.GetString("aws.secret_access_key"),
			SessionToken:    v.GetString("aws.session_token"),
		},
		Retry: retry.Policy{
			InitialDelay: v.GetDuration("retry.initial_delay"),
			MaxDelay:     v.GetDuration("retry.max_delay"),
			Multiplier:   v.GetFloat64("retry.multiplier"),
			MaxAttempts:  v.GetInt("retry.max_attempts"),
			MaxElapsed:   v.GetDuration("retry.max_elapsed"),
		},
		Pacing: ratelimit.Config{
			RequestsPerSecond: v.GetFloat64("control_plane.rps"),
			Burst:             v.GetInt("control_plane.burst"),
		},
		HTTP: fetch.Options{
			Transport:       v.GetString("http.transport"),
			Timeout:         v.GetDuration("http.timeout"),
			FollowRedirects: v.GetBool("http.follow_redirects"),
		},
		IPInfoURL:       v.GetString("ipinfo.url"),
		IPInfoToken:     v.GetString("ipinfo.token"),
		DatabaseEnabled: v.GetBool("database.enabled"),
		Database: database.Config{
			User:     v.GetString("database.user"),
			Password: v.GetString("database.password"),
			Host:     v.GetString("database.host"),
			Port:     v.GetInt("database.port"),
			DBName:   v.GetString("database.dbname"),
			SSLMode:  v.GetString("database.sslmode"),
		},
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	var errs []error
	if c.Retry.InitialDelay < 0 || c.Retry.MaxDelay < 0 || c.Retry.MaxElapsed < 0 {
		errs = append(errs, errors.New("retry delays must not be negative"))
	}
	if c.Retry.Multiplier != 0 && c.Retry.Multiplier < 1 {
		errs = append(errs, fmt.Errorf("retry.multiplier must be at least 1, got %v", c.Retry.Multiplier))
	}
	if c.Retry.MaxAttempts < 0 {
		errs = append(errs, fmt.Errorf("retry.max_attempts must not be negative, got %d", c.Retry.MaxAttempts))
	}
	if c.Pacing.RequestsPerSecond < 0 {
		errs = append(errs, fmt.Errorf("control_plane.rps must not be negative, got %v", c.Pacing.RequestsPerSecond))
	}
	if c.HTTP.Timeout < 0 {
		errs = append(errs, errors.New("http.timeout must not be negative"))
	}
	if c.DatabaseEnabled && c.Database.DBName == "" {
		errs = append(errs, errors.New("database.dbname is required when database.enabled is set"))
	}
	return errors.Join(errs...)
}

// Pool returns the pool settings. The target must have been set.
func (c Config) Pool() pool.Config {
	return pool.Config{
		Target:             c.Target,
		HostHeader:         c.HostHeader,
		Regions:            c.Regions,
		ClearAllOnTeardown: c.ClearAll,
		WaitAllRegions:     c.WaitAllRegions,
		Verbose:            c.Verbose,
		Retry:              c.Retry,
	}
}

// splitList accepts both YAML lists and comma separated environment values.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
