package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"file-server-go/internal/logger"
)

var log = logger.WithComponent("CONFIG")

// EnvPrefix prefixes every environment override, e.g. FILES_STORAGE_ROOT.
const EnvPrefix = "FILES"

// AppConfig holds the resolved application configuration
type AppConfig struct {
	Env             string        `mapstructure:"-"`
	Port            int           `mapstructure:"port" validate:"min=1,max=65535"`
	StorageRoot     string        `mapstructure:"storage_root" validate:"required"`
	DataDir         string        `mapstructure:"data_dir" validate:"required"`
	JWTSecret       string        `mapstructure:"jwt_secret" validate:"required,min=16"`
	TokenTTL        time.Duration `mapstructure:"token_ttl" validate:"gt=0"`
	MaxUploadSize   int64         `mapstructure:"max_upload_size" validate:"gt=0"`
	RateLimitRPS    float64       `mapstructure:"rate_limit_rps" validate:"gte=0"`
	RateLimitBurst  int           `mapstructure:"rate_limit_burst" validate:"gte=0"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins" validate:"dive,url"`
	SentryDSN       string        `mapstructure:"sentry_dsn" validate:"omitempty,url"`
	LogLevel        string        `mapstructure:"log_level" validate:"oneof=DEBUG INFO WARN ERROR debug info warn error"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// Common configuration errors
var (
	ErrMissingSecret = errors.New("JWT_SECRET environment variable is required")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// ValidationError contains details about a configuration validation failure
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error: %s - %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	return fmt.Sprintf("%d config validation errors: %s (and %d more)", len(e), e[0].Error(), len(e)-1)
}

var validate = validator.New()

// Validate checks the configuration for errors
func (c *AppConfig) Validate() ValidationErrors {
	var errs ValidationErrors

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return ValidationErrors{{Field: "config", Message: err.Error()}}
		}
		for _, fe := range verrs {
			errs = append(errs, ValidationError{
				Field:   fe.Namespace(),
				Message: fmt.Sprintf("failed %q (value %v)", fe.Tag(), redact(fe.Field(), fe.Value())),
			})
		}
	}

	for field, dir := range map[string]string{"storage_root": c.StorageRoot, "data_dir": c.DataDir} {
		if dir == "" {
			continue
		}
		info, err := os.Stat(dir)
		if err != nil {
			// Not existing is OK - we create it
			if !os.IsNotExist(err) {
				errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf("cannot access: %v", err)})
			}
		} else if !info.IsDir() {
			errs = append(errs, ValidationError{Field: field, Message: "path exists but is not a directory"})
		}
	}

	return errs
}

func redact(field string, value any) any {
	if field == "JWTSecret" {
		return "<redacted>"
	}
	return value
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", 5000)
	v.SetDefault("storage_root", "user_files")
	v.SetDefault("data_dir", "data")
	v.SetDefault("jwt_secret", "")
	v.SetDefault("token_ttl", time.Hour)
	v.SetDefault("max_upload_size", int64(100<<20))
	v.SetDefault("rate_limit_rps", 20.0)
	v.SetDefault("rate_limit_burst", 40)
	v.SetDefault("allowed_origins", []string{})
	v.SetDefault("sentry_dsn", "")
	v.SetDefault("log_level", "INFO")
	v.SetDefault("shutdown_timeout", 30*time.Second)
}

// Env returns the selected environment: FILES_ENV, then NODE_ENV, then
// "development".
func Env() string {
	if env := os.Getenv(EnvPrefix + "_ENV"); env != "" {
		return env
	}
	if env := os.Getenv("NODE_ENV"); env != "" {
		return env
	}
	return "development"
}

// Load loads configuration from a JSON file with "development" and
// "production" sections, then applies environment overrides. A missing file
// is not an error; defaults and the environment are enough.
func Load(configPath string) (*AppConfig, error) {
	env := Env()

	file := viper.New()
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			file.SetConfigFile(configPath)
			file.SetConfigType("json")
			if err := file.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("stat config file: %w", err)
		} else {
			log.Info("No config file at %s, using defaults and environment", configPath)
		}
	}

	v := file.Sub(env)
	if v == nil {
		v = viper.New()
	}
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Unprefixed names kept for deployment compatibility.
	_ = v.BindEnv("port", EnvPrefix+"_PORT", "PORT")
	_ = v.BindEnv("jwt_secret", EnvPrefix+"_JWT_SECRET", "JWT_SECRET")
	_ = v.BindEnv("sentry_dsn", EnvPrefix+"_SENTRY_DSN", "SENTRY_DSN")

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.Env = env

	if cfg.JWTSecret == "" {
		return nil, ErrMissingSecret
	}

	cwd, _ := os.Getwd()
	resolvePathFn := func(path string) string {
		if filepath.IsAbs(path) {
			return path
		}
		return filepath.Join(cwd, path)
	}
	cfg.StorageRoot = resolvePathFn(cfg.StorageRoot)
	cfg.DataDir = resolvePathFn(cfg.DataDir)

	if errs := cfg.Validate(); len(errs) > 0 {
		for _, err := range errs {
			log.Error("Validation error: %s", err.Error())
		}
		return nil, fmt.Errorf("%w: %s", ErrInvalidConfig, errs.Error())
	}

	log.Info("Configuration loaded successfully | env=%s port=%d storage=%s", cfg.Env, cfg.Port, cfg.StorageRoot)
	return &cfg, nil
}

// IsProduction reports whether the production section is active.
func (c *AppConfig) IsProduction() bool {
	return c.Env == "production"
}

// IdentityDBPath is where the identity store keeps its files.
func (c *AppConfig) IdentityDBPath() string {
	return filepath.Join(c.DataDir, "identities")
}

// SessionsPath is where sessions are persisted.
func (c *AppConfig) SessionsPath() string {
	return filepath.Join(c.DataDir, "sessions.json")
}

// LoginLimitsPath is where login throttling state is persisted.
func (c *AppConfig) LoginLimitsPath() string {
	return filepath.Join(c.DataDir, "login-limits.json")
}
