package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 34, cfg.Generation.MaxLength)
	assert.Equal(t, 1.0, cfg.Generation.Temperature)
	assert.Equal(t, ":5000", cfg.Server.Address)
	assert.Equal(t, int64(16<<20), cfg.Server.MaxUploadBytes)
}

func TestLoad_DefaultsAndEnv(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("CAPTIONER_GENERATION_MAX_LENGTH", "20")
	t.Setenv("CAPTIONER_LOG_STYLE", "json")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.Generation.MaxLength)
	assert.Equal(t, "json", cfg.Log.Style)
	assert.Equal(t, "startseq", cfg.Generation.StartToken)
}

func TestLoad_PortOverride(t *testing.T) {
	t.Setenv("PORT", "8081")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ":8081", cfg.Server.Address)
}

func TestLoad_YAMLFile(t *testing.T) {
	t.Setenv("PORT", "")
	path := filepath.Join(t.TempDir(), "captioner.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
models:
  backend: ollama
  remote_url: http://localhost:11434
  remote_model: llava
server:
  request_timeout: 45s
render:
  text_color: red
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, BackendOllama, cfg.Models.Backend)
	assert.Equal(t, 45*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, "red", cfg.Render.TextColor)
	// Untouched keys keep their defaults.
	assert.Equal(t, 224, cfg.Generation.ImageSize)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadWith_FlagBinding(t *testing.T) {
	t.Setenv("PORT", "")
	v := viper.New()
	v.Set("generation.temperature", 0.5)

	cfg, err := LoadWith(v, "")
	require.NoError(t, err)
	assert.Equal(t, 0.5, cfg.Generation.Temperature)
}

func TestSaveToFile_RoundTrip(t *testing.T) {
	t.Setenv("PORT", "")
	for _, ext := range []string{"yaml", "json", "toml"} {
		t.Run(ext, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", "config."+ext)

			cfg := Default()
			cfg.Generation.Temperature = 0.7
			cfg.Server.RequestTimeout = 90 * time.Second
			require.NoError(t, cfg.SaveToFile(path))

			loaded, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, cfg, loaded)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown backend", func(c *Config) { c.Models.Backend = "tensorflow" }},
		{"onnx without vocabulary", func(c *Config) { c.Models.Vocabulary = "" }},
		{"remote without url", func(c *Config) { c.Models.Backend = BackendLlamaCpp }},
		{"ollama without model", func(c *Config) {
			c.Models.Backend = BackendOllama
			c.Models.RemoteURL = "http://localhost:11434"
		}},
		{"zero max length", func(c *Config) { c.Generation.MaxLength = 0 }},
		{"zero temperature", func(c *Config) { c.Generation.Temperature = 0 }},
		{"same sentinels", func(c *Config) { c.Generation.EndToken = c.Generation.StartToken }},
		{"bad colour", func(c *Config) { c.Render.TextColor = "#12" }},
		{"axes fraction", func(c *Config) { c.Render.AxesFraction = 1.5 }},
		{"temperature bounds", func(c *Config) { c.Server.MinTemperature = 3 }},
		{"upload limit", func(c *Config) { c.Server.MaxUploadBytes = 0 }},
		{"log style", func(c *Config) { c.Log.Style = "logfmt" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSettingsConversion(t *testing.T) {
	cfg := Default()

	rc, err := cfg.RenderSettings()
	require.NoError(t, err)
	assert.Equal(t, uint8(255), rc.TextColor.B)
	assert.Equal(t, 224, rc.ImageSize)

	oc := cfg.ONNXSettings()
	assert.Equal(t, cfg.Models.CaptionModel, oc.CaptionModelPath)

	gc := cfg.GenerationSettings()
	assert.Equal(t, 34, gc.MaxLength)
}
