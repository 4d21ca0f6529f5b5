package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	apperrors "filelocker/internal/errors"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 2048, cfg.Iterations)
	assert.Equal(t, 384, cfg.KeyBits)
	assert.Equal(t, filepath.Join(cfg.BaseDir, "recovered"), cfg.RecoveredDir())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty base dir", func(c *Config) { c.BaseDir = "" }},
		{"empty salt", func(c *Config) { c.Salt = "" }},
		{"zero iterations", func(c *Config) { c.Iterations = 0 }},
		{"short key", func(c *Config) { c.KeyBits = 256 }},
		{"tiny pack", func(c *Config) { c.PackSize = 8 }},
		{"negative workers", func(c *Config) { c.Workers = -1 }},
		{"negative threshold", func(c *Config) { c.ParallelThreshold = -1 }},
		{"huge thumbnail", func(c *Config) { c.ThumbnailSize = 10000 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidateKeyBitsAlignment(t *testing.T) {
	cfg := Default()
	cfg.KeyBits = 390

	var ve *apperrors.ValidationError
	require.True(t, errors.As(cfg.Validate(), &ve))
	assert.Equal(t, "key-bits", ve.Field)
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "filelocker.yaml")
	require.NoError(t, os.WriteFile(file, []byte("iterations: 4096\nworkers: 3\nbase-dir: "+dir+"\n"), 0o600))

	t.Setenv("FILELOCKER_WORKERS", "7")
	t.Setenv("FILELOCKER_PACK_SIZE", "65536")

	v := viper.New()
	v.Set(KeyConfigFile, file)
	v.Set(KeyThumbnails, false)

	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.BaseDir)
	assert.Equal(t, 4096, cfg.Iterations)       // file
	assert.Equal(t, 7, cfg.Workers)             // env over file
	assert.Equal(t, int64(65536), cfg.PackSize) // env over default
	assert.False(t, cfg.Thumbnails)             // explicit set
	assert.Equal(t, DefaultSalt, cfg.Salt)      // default
}

func TestLoadInvalid(t *testing.T) {
	t.Setenv("FILELOCKER_ITERATIONS", "0")

	_, err := Load(viper.New())
	assert.Error(t, err)
}

func TestLoadMissingConfigFile(t *testing.T) {
	v := viper.New()
	v.Set(KeyConfigFile, filepath.Join(t.TempDir(), "nope.yaml"))

	_, err := Load(v)
	assert.Error(t, err)
}
