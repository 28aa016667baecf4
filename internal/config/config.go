// Package config loads the untis-auth configuration: defaults, then a YAML file, then
// UNTIS_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/and161185/untis-auth/internal/keychain"
	"github.com/and161185/untis-auth/internal/model"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Log      LogConfig             `yaml:"log"`
	HTTP     HTTPConfig            `yaml:"http"`
	Cache    CacheConfig           `yaml:"cache"`
	Limiter  LimiterConfig         `yaml:"limiter"`
	Module   model.ModuleConfig    `yaml:"module"`
	Students []model.StudentConfig `yaml:"students"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type HTTPConfig struct {
	Scheme          string        `yaml:"scheme"`
	ProtocolTimeout time.Duration `yaml:"protocol_timeout"`
	MetadataTimeout time.Duration `yaml:"metadata_timeout"`
}

type CacheConfig struct {
	TTL                      time.Duration `yaml:"ttl"`
	RefreshMargin            time.Duration `yaml:"refresh_margin"`
	CookieValidationInterval time.Duration `yaml:"cookie_validation_interval"`
	KeepRawAppData           bool          `yaml:"keep_raw_app_data"`
}

type LimiterConfig struct {
	Every    time.Duration `yaml:"every"`
	Burst    int           `yaml:"burst"`
	Window   time.Duration `yaml:"window"`
	MaxFails int           `yaml:"max_fails"`
	BlockFor time.Duration `yaml:"block_for"`
}

func Default() Config {
	return Config{
		Log: LogConfig{Level: "info"},
		HTTP: HTTPConfig{
			Scheme:          "https",
			ProtocolTimeout: 10 * time.Second,
			MetadataTimeout: 15 * time.Second,
		},
		Cache: CacheConfig{
			TTL:                      14 * time.Minute,
			RefreshMargin:            2 * time.Minute,
			CookieValidationInterval: 5 * time.Minute,
		},
		Limiter: LimiterConfig{
			Every:    2 * time.Second,
			Burst:    3,
			Window:   10 * time.Minute,
			MaxFails: 5,
			BlockFor: 15 * time.Minute,
		},
	}
}

// Load builds the configuration. A missing file at path is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFromYAML(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := applyEnvOverrides(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFromYAML(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("unmarshal config yaml: %w", err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("UNTIS_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}

	if v := os.Getenv("UNTIS_HTTP_SCHEME"); v != "" {
		cfg.HTTP.Scheme = v
	}
	if err := overrideDuration("UNTIS_HTTP_PROTOCOL_TIMEOUT", &cfg.HTTP.ProtocolTimeout); err != nil {
		return err
	}
	if err := overrideDuration("UNTIS_HTTP_METADATA_TIMEOUT", &cfg.HTTP.MetadataTimeout); err != nil {
		return err
	}

	if err := overrideDuration("UNTIS_CACHE_TTL", &cfg.Cache.TTL); err != nil {
		return err
	}
	if err := overrideDuration("UNTIS_CACHE_REFRESH_MARGIN", &cfg.Cache.RefreshMargin); err != nil {
		return err
	}
	if err := overrideDuration("UNTIS_CACHE_COOKIE_VALIDATION_INTERVAL", &cfg.Cache.CookieValidationInterval); err != nil {
		return err
	}
	if err := overrideBool("UNTIS_CACHE_KEEP_RAW_APP_DATA", &cfg.Cache.KeepRawAppData); err != nil {
		return err
	}

	if err := overrideDuration("UNTIS_LIMITER_EVERY", &cfg.Limiter.Every); err != nil {
		return err
	}
	if err := overrideInt("UNTIS_LIMITER_BURST", &cfg.Limiter.Burst); err != nil {
		return err
	}
	if err := overrideInt("UNTIS_LIMITER_MAX_FAILS", &cfg.Limiter.MaxFails); err != nil {
		return err
	}
	if err := overrideDuration("UNTIS_LIMITER_BLOCK_FOR", &cfg.Limiter.BlockFor); err != nil {
		return err
	}

	if v := os.Getenv("UNTIS_SCHOOL"); v != "" {
		cfg.Module.School = v
	}
	if v := os.Getenv("UNTIS_SERVER"); v != "" {
		cfg.Module.Server = v
	}
	if v := os.Getenv("UNTIS_USERNAME"); v != "" {
		cfg.Module.Username = v
	}
	if v := os.Getenv("UNTIS_PASSWORD"); v != "" {
		cfg.Module.Password = v
	}
	if v := os.Getenv("UNTIS_QRCODE"); v != "" {
		cfg.Module.QRCode = v
	}
	return nil
}

// Validate checks timing relations and that every student entry has a way to log in.
func (c *Config) Validate() error {
	if c.Log.Level == "" {
		return errors.New("log level cannot be empty")
	}
	if c.HTTP.Scheme != "http" && c.HTTP.Scheme != "https" {
		return fmt.Errorf("unsupported http scheme %q", c.HTTP.Scheme)
	}
	if c.Cache.TTL <= c.Cache.RefreshMargin {
		return fmt.Errorf("cache ttl %s must exceed refresh margin %s", c.Cache.TTL, c.Cache.RefreshMargin)
	}
	if c.Limiter.MaxFails < 0 || c.Limiter.Burst < 0 {
		return errors.New("limiter values cannot be negative")
	}

	parent := c.Module.Username != "" && c.Module.Password != ""
	for i, st := range c.Students {
		own := st.Username != "" && st.Password != ""
		if st.QRCode == "" && !own && !parent {
			return fmt.Errorf("student %d (%q): no qrcode, credentials or parent login configured", i, st.Title)
		}
	}
	return nil
}

// ResolveSecrets replaces "keyring:<key>" references in passwords and QR codes with the
// secrets stored in kc.
func (c *Config) ResolveSecrets(kc keychain.Keychain) error {
	resolve := func(field string, v *string) error {
		s, err := keychain.Resolve(kc, *v)
		if err != nil {
			return fmt.Errorf("%s: %w", field, err)
		}
		*v = s
		return nil
	}

	if err := resolve("module.password", &c.Module.Password); err != nil {
		return err
	}
	if err := resolve("module.qrcode", &c.Module.QRCode); err != nil {
		return err
	}
	for i := range c.Students {
		if err := resolve(fmt.Sprintf("students[%d].password", i), &c.Students[i].Password); err != nil {
			return err
		}
		if err := resolve(fmt.Sprintf("students[%d].qrcode", i), &c.Students[i].QRCode); err != nil {
			return err
		}
	}
	return nil
}

func overrideDuration(key string, target *time.Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("parse %s duration: %w", key, err)
	}
	*target = d
	return nil
}

func overrideInt(key string, target *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("parse %s int: %w", key, err)
	}
	*target = n
	return nil
}

func overrideBool(key string, target *bool) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("parse %s bool: %w", key, err)
	}
	*target = b
	return nil
}
