// Package config holds the engine settings and loads them from defaults,
// an optional config file, FILELOCKER_* environment variables and flags.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	apperrors "filelocker/internal/errors"
	"filelocker/internal/util"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "FILELOCKER"

// DefaultSalt is used when no salt is configured. The trailer does not
// record the salt, so containers only open with the salt they were made with.
const DefaultSalt = "filelocker.container.salt"

// Viper keys, also used as flag names.
const (
	KeyConfigFile        = "config"
	KeyBaseDir           = "base-dir"
	KeySalt              = "salt"
	KeyIterations        = "iterations"
	KeyKeyBits           = "key-bits"
	KeyPackSize          = "pack-size"
	KeyWorkers           = "workers"
	KeyParallelThreshold = "parallel-threshold"
	KeyThumbnails        = "thumbnails"
	KeyThumbnailSize     = "thumbnail-size"
)

// Config is the engine configuration.
type Config struct {
	BaseDir           string `mapstructure:"base-dir" validate:"required"`
	Salt              string `mapstructure:"salt" validate:"required"`
	Iterations        int    `mapstructure:"iterations" validate:"min=1"`
	KeyBits           int    `mapstructure:"key-bits" validate:"min=384,max=4096"`
	PackSize          int64  `mapstructure:"pack-size" validate:"min=16"`
	Workers           int    `mapstructure:"workers" validate:"min=0,max=1024"`   // 0 = one per CPU
	ParallelThreshold int64  `mapstructure:"parallel-threshold" validate:"min=0"` // 0 = never chunk unless asked
	Thumbnails        bool   `mapstructure:"thumbnails"`
	ThumbnailSize     int    `mapstructure:"thumbnail-size" validate:"min=16,max=2048"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		BaseDir:           defaultBaseDir(),
		Salt:              DefaultSalt,
		Iterations:        2048,
		KeyBits:           384,
		PackSize:          4 * util.MiB,
		Workers:           0,
		ParallelThreshold: 64 * util.MiB,
		Thumbnails:        true,
		ThumbnailSize:     256,
	}
}

func defaultBaseDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".filelocker")
	}
	return ".filelocker"
}

// Validate validates the configuration against the struct tags.
func (c Config) Validate() error {
	validate := validator.New()

	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("validating configuration: %w", err)
	}

	if c.KeyBits%8 != 0 {
		return apperrors.NewValidationError("key-bits", fmt.Sprintf("must be a multiple of 8, got %d", c.KeyBits))
	}

	return nil
}

// RecoveredDir is where decoded items go when they are not restored to
// their original location.
func (c Config) RecoveredDir() string {
	return filepath.Join(c.BaseDir, "recovered")
}

// SetDefaults registers every key with its default on v, so that
// environment variables are picked up by Unmarshal.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault(KeyBaseDir, d.BaseDir)
	v.SetDefault(KeySalt, d.Salt)
	v.SetDefault(KeyIterations, d.Iterations)
	v.SetDefault(KeyKeyBits, d.KeyBits)
	v.SetDefault(KeyPackSize, d.PackSize)
	v.SetDefault(KeyWorkers, d.Workers)
	v.SetDefault(KeyParallelThreshold, d.ParallelThreshold)
	v.SetDefault(KeyThumbnails, d.Thumbnails)
	v.SetDefault(KeyThumbnailSize, d.ThumbnailSize)
}

// Load resolves the configuration from v. Precedence, highest first:
// flags bound to v, FILELOCKER_* environment variables, the file named by
// the "config" key, defaults.
func Load(v *viper.Viper) (Config, error) {
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if file := v.GetString(KeyConfigFile); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config file %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
