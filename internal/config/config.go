package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/menta2k/image-captioner/pkg/onnx"
	"github.com/menta2k/image-captioner/pkg/render"
	"github.com/menta2k/image-captioner/pkg/types"
)

// EnvPrefix prefixes environment overrides, e.g. CAPTIONER_SERVER_ADDRESS.
const EnvPrefix = "CAPTIONER"

// Backends that can produce raw captions.
const (
	BackendONNX     = "onnx"
	BackendOllama   = "ollama"
	BackendLlamaCpp = "llamacpp"
)

// Config holds the application configuration
type Config struct {
	Models     ModelsConfig     `json:"models" mapstructure:"models"`
	Generation GenerationConfig `json:"generation" mapstructure:"generation"`
	Render     RenderConfig     `json:"render" mapstructure:"render"`
	Server     ServerConfig     `json:"server" mapstructure:"server"`
	Log        LogConfig        `json:"log" mapstructure:"log"`
}

// ModelsConfig locates the trained networks and vocabulary, or a remote
// vision model used instead of them.
type ModelsConfig struct {
	Backend       string `json:"backend" mapstructure:"backend"`
	FeatureModel  string `json:"feature_model" mapstructure:"feature_model"`
	CaptionModel  string `json:"caption_model" mapstructure:"caption_model"`
	Vocabulary    string `json:"vocabulary" mapstructure:"vocabulary"`
	LibraryPath   string `json:"library_path" mapstructure:"library_path"`
	NumThreads    int    `json:"num_threads" mapstructure:"num_threads"`
	FeatureInput  string `json:"feature_input" mapstructure:"feature_input"`
	SequenceInput string `json:"sequence_input" mapstructure:"sequence_input"`
	RemoteURL     string `json:"remote_url" mapstructure:"remote_url"`
	RemoteModel   string `json:"remote_model" mapstructure:"remote_model"`
}

// GenerationConfig holds decoding parameters
type GenerationConfig struct {
	MaxLength   int     `json:"max_length" mapstructure:"max_length"`
	Temperature float64 `json:"temperature" mapstructure:"temperature"`
	ImageSize   int     `json:"image_size" mapstructure:"image_size"`
	StartToken  string  `json:"start_token" mapstructure:"start_token"`
	EndToken    string  `json:"end_token" mapstructure:"end_token"`
}

// RenderConfig holds the annotated figure layout
type RenderConfig struct {
	FigureInches float64 `json:"figure_inches" mapstructure:"figure_inches"`
	DPI          float64 `json:"dpi" mapstructure:"dpi"`
	AxesFraction float64 `json:"axes_fraction" mapstructure:"axes_fraction"`
	FontSize     float64 `json:"font_size" mapstructure:"font_size"`
	TitlePad     float64 `json:"title_pad" mapstructure:"title_pad"`
	OuterPad     float64 `json:"outer_pad" mapstructure:"outer_pad"`
	TextColor    string  `json:"text_color" mapstructure:"text_color"`
	Background   string  `json:"background" mapstructure:"background"`
}

// ServerConfig holds HTTP service settings
type ServerConfig struct {
	Address        string        `json:"address" mapstructure:"address"`
	MaxUploadBytes int64         `json:"max_upload_bytes" mapstructure:"max_upload_bytes"`
	MaxConcurrent  int           `json:"max_concurrent" mapstructure:"max_concurrent"`
	MaxQueue       int           `json:"max_queue" mapstructure:"max_queue"`
	RequestTimeout time.Duration `json:"request_timeout" mapstructure:"request_timeout"`
	MinTemperature float64       `json:"min_temperature" mapstructure:"min_temperature"`
	MaxTemperature float64       `json:"max_temperature" mapstructure:"max_temperature"`
}

// LogConfig selects logger verbosity and encoding
type LogConfig struct {
	Level string `json:"level" mapstructure:"level"`
	Style string `json:"style" mapstructure:"style"`
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Models: ModelsConfig{
			Backend:      BackendONNX,
			FeatureModel: "models/feature_extractor.onnx",
			CaptionModel: "models/caption_model.onnx",
			Vocabulary:   "models/tokenizer.json",
		},
		Generation: GenerationConfig{
			MaxLength:   34,
			Temperature: 1.0,
			ImageSize:   224,
			StartToken:  "startseq",
			EndToken:    "endseq",
		},
		Render: RenderConfig{
			FigureInches: 6,
			DPI:          100,
			AxesFraction: 0.77,
			FontSize:     14,
			TitlePad:     15,
			OuterPad:     0.3,
			TextColor:    "#0000FF",
			Background:   "#FFFFFF",
		},
		Server: ServerConfig{
			Address:        ":5000",
			MaxUploadBytes: 16 << 20,
			MaxConcurrent:  4,
			MaxQueue:       32,
			RequestTimeout: 2 * time.Minute,
			MinTemperature: 0.1,
			MaxTemperature: 2.0,
		},
		Log: LogConfig{
			Level: "info",
			Style: "terminal",
		},
	}
}

// SetDefaults registers every key with its default so environment
// overrides apply even when no config file sets them.
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("models.backend", d.Models.Backend)
	v.SetDefault("models.feature_model", d.Models.FeatureModel)
	v.SetDefault("models.caption_model", d.Models.CaptionModel)
	v.SetDefault("models.vocabulary", d.Models.Vocabulary)
	v.SetDefault("models.library_path", d.Models.LibraryPath)
	v.SetDefault("models.num_threads", d.Models.NumThreads)
	v.SetDefault("models.feature_input", d.Models.FeatureInput)
	v.SetDefault("models.sequence_input", d.Models.SequenceInput)
	v.SetDefault("models.remote_url", d.Models.RemoteURL)
	v.SetDefault("models.remote_model", d.Models.RemoteModel)

	v.SetDefault("generation.max_length", d.Generation.MaxLength)
	v.SetDefault("generation.temperature", d.Generation.Temperature)
	v.SetDefault("generation.image_size", d.Generation.ImageSize)
	v.SetDefault("generation.start_token", d.Generation.StartToken)
	v.SetDefault("generation.end_token", d.Generation.EndToken)

	v.SetDefault("render.figure_inches", d.Render.FigureInches)
	v.SetDefault("render.dpi", d.Render.DPI)
	v.SetDefault("render.axes_fraction", d.Render.AxesFraction)
	v.SetDefault("render.font_size", d.Render.FontSize)
	v.SetDefault("render.title_pad", d.Render.TitlePad)
	v.SetDefault("render.outer_pad", d.Render.OuterPad)
	v.SetDefault("render.text_color", d.Render.TextColor)
	v.SetDefault("render.background", d.Render.Background)

	v.SetDefault("server.address", d.Server.Address)
	v.SetDefault("server.max_upload_bytes", d.Server.MaxUploadBytes)
	v.SetDefault("server.max_concurrent", d.Server.MaxConcurrent)
	v.SetDefault("server.max_queue", d.Server.MaxQueue)
	v.SetDefault("server.request_timeout", d.Server.RequestTimeout)
	v.SetDefault("server.min_temperature", d.Server.MinTemperature)
	v.SetDefault("server.max_temperature", d.Server.MaxTemperature)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.style", d.Log.Style)
}

// Load reads configuration from path (yaml, json or toml by extension),
// then the environment. An empty path loads defaults and environment only.
func Load(path string) (*Config, error) {
	return LoadWith(viper.New(), path)
}

// LoadWith is Load on a caller-provided viper instance, so command-line
// flags bound to v take precedence over file and environment.
func LoadWith(v *viper.Viper, path string) (*Config, error) {
	SetDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Hosting platforms hand out the listen port this way.
	if port := os.Getenv("PORT"); port != "" {
		cfg.Server.Address = ":" + port
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SaveToFile writes the configuration in the format named by the file
// extension.
func (c *Config) SaveToFile(filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	if err := v.MergeConfigMap(c.toMap()); err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := v.WriteConfigAs(filename); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func (c *Config) toMap() map[string]any {
	return map[string]any{
		"models": map[string]any{
			"backend":        c.Models.Backend,
			"feature_model":  c.Models.FeatureModel,
			"caption_model":  c.Models.CaptionModel,
			"vocabulary":     c.Models.Vocabulary,
			"library_path":   c.Models.LibraryPath,
			"num_threads":    c.Models.NumThreads,
			"feature_input":  c.Models.FeatureInput,
			"sequence_input": c.Models.SequenceInput,
			"remote_url":     c.Models.RemoteURL,
			"remote_model":   c.Models.RemoteModel,
		},
		"generation": map[string]any{
			"max_length":  c.Generation.MaxLength,
			"temperature": c.Generation.Temperature,
			"image_size":  c.Generation.ImageSize,
			"start_token": c.Generation.StartToken,
			"end_token":   c.Generation.EndToken,
		},
		"render": map[string]any{
			"figure_inches": c.Render.FigureInches,
			"dpi":           c.Render.DPI,
			"axes_fraction": c.Render.AxesFraction,
			"font_size":     c.Render.FontSize,
			"title_pad":     c.Render.TitlePad,
			"outer_pad":     c.Render.OuterPad,
			"text_color":    c.Render.TextColor,
			"background":    c.Render.Background,
		},
		"server": map[string]any{
			"address":          c.Server.Address,
			"max_upload_bytes": c.Server.MaxUploadBytes,
			"max_concurrent":   c.Server.MaxConcurrent,
			"max_queue":        c.Server.MaxQueue,
			"request_timeout":  c.Server.RequestTimeout.String(),
			"min_temperature":  c.Server.MinTemperature,
			"max_temperature":  c.Server.MaxTemperature,
		},
		"log": map[string]any{
			"level": c.Log.Level,
			"style": c.Log.Style,
		},
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Models.Backend {
	case BackendONNX:
		if c.Models.FeatureModel == "" || c.Models.CaptionModel == "" {
			return errors.New("models.feature_model and models.caption_model are required for the onnx backend")
		}
		if c.Models.Vocabulary == "" {
			return errors.New("models.vocabulary is required for the onnx backend")
		}
	case BackendOllama, BackendLlamaCpp:
		if c.Models.RemoteURL == "" {
			return fmt.Errorf("models.remote_url is required for the %s backend", c.Models.Backend)
		}
		if c.Models.Backend == BackendOllama && c.Models.RemoteModel == "" {
			return errors.New("models.remote_model is required for the ollama backend")
		}
	default:
		return fmt.Errorf("models.backend must be one of onnx, ollama, llamacpp (got %q)", c.Models.Backend)
	}
	if c.Models.NumThreads < 0 {
		return errors.New("models.num_threads cannot be negative")
	}

	if err := c.GenerationSettings().Validate(); err != nil {
		return fmt.Errorf("generation: %w", err)
	}
	if c.Generation.ImageSize < 1 {
		return errors.New("generation.image_size must be positive")
	}
	if c.Generation.StartToken == "" || c.Generation.EndToken == "" {
		return errors.New("generation.start_token and generation.end_token cannot be empty")
	}
	if c.Generation.StartToken == c.Generation.EndToken {
		return errors.New("generation.start_token and generation.end_token must differ")
	}

	if c.Render.FigureInches <= 0 || c.Render.DPI <= 0 || c.Render.FontSize <= 0 {
		return errors.New("render.figure_inches, render.dpi and render.font_size must be positive")
	}
	if c.Render.AxesFraction <= 0 || c.Render.AxesFraction > 1 {
		return errors.New("render.axes_fraction must be in (0, 1]")
	}
	if c.Render.TitlePad < 0 || c.Render.OuterPad < 0 {
		return errors.New("render.title_pad and render.outer_pad cannot be negative")
	}
	if _, err := render.ParseColor(c.Render.TextColor); err != nil {
		return fmt.Errorf("render.text_color: %w", err)
	}
	if _, err := render.ParseColor(c.Render.Background); err != nil {
		return fmt.Errorf("render.background: %w", err)
	}

	if c.Server.MaxUploadBytes < 1 {
		return errors.New("server.max_upload_bytes must be positive")
	}
	if c.Server.MaxConcurrent < 0 || c.Server.MaxQueue < 0 {
		return errors.New("server.max_concurrent and server.max_queue cannot be negative")
	}
	if c.Server.MinTemperature <= 0 || c.Server.MaxTemperature < c.Server.MinTemperature {
		return errors.New("server temperature bounds must satisfy 0 < min_temperature <= max_temperature")
	}

	switch c.Log.Style {
	case "terminal", "json", "noop":
	default:
		return fmt.Errorf("log.style must be one of terminal, json, noop (got %q)", c.Log.Style)
	}

	return nil
}

// GenerationSettings returns the decoding parameters
func (c *Config) GenerationSettings() types.GenerationConfig {
	return types.GenerationConfig{
		MaxLength:   c.Generation.MaxLength,
		Temperature: c.Generation.Temperature,
	}
}

// RenderSettings converts the render section into a renderer configuration.
func (c *Config) RenderSettings() (render.Config, error) {
	text, err := render.ParseColor(c.Render.TextColor)
	if err != nil {
		return render.Config{}, err
	}
	bg, err := render.ParseColor(c.Render.Background)
	if err != nil {
		return render.Config{}, err
	}
	return render.Config{
		ImageSize:    c.Generation.ImageSize,
		FigureInches: c.Render.FigureInches,
		DPI:          c.Render.DPI,
		AxesFraction: c.Render.AxesFraction,
		FontSize:     c.Render.FontSize,
		TitlePad:     c.Render.TitlePad,
		OuterPad:     c.Render.OuterPad,
		TextColor:    text,
		Background:   bg,
	}, nil
}

// ONNXSettings returns the ONNX provider configuration
func (c *Config) ONNXSettings() onnx.Config {
	return onnx.Config{
		FeatureModelPath: c.Models.FeatureModel,
		CaptionModelPath: c.Models.CaptionModel,
		LibraryPath:      c.Models.LibraryPath,
		NumThreads:       c.Models.NumThreads,
		FeatureInput:     c.Models.FeatureInput,
		SequenceInput:    c.Models.SequenceInput,
	}
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.yaml"
	}
	return filepath.Join(home, ".config", "image-captioner", "config.yaml")
}
