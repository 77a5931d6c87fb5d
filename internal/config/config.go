package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/andresmejia3/facesampler/internal/dataset"
	"github.com/andresmejia3/facesampler/internal/sampler"
	"github.com/caarlos0/env/v11"
	"github.com/pelletier/go-toml/v2"
)

// EnvPrefix is prepended to every environment variable read by Load.
const EnvPrefix = "FACESAMPLER_"

// Detector backends.
const (
	BackendYuNet  = "yunet"
	BackendPython = "python"
)

// Sampling holds the dataset sampler parameters.
type Sampling struct {
	Width                 int     `toml:"width" env:"WIDTH"`
	Height                int     `toml:"height" env:"HEIGHT"`
	BaseSample            int     `toml:"base_sample" env:"BASE_SAMPLE"`
	MaxVideosPerLabel     int     `toml:"max_videos_per_label" env:"MAX_VIDEOS_PER_LABEL"`
	FaceThreshold         float64 `toml:"face_threshold" env:"FACE_THRESHOLD"`
	BaseAttempts          int     `toml:"base_attempts" env:"BASE_ATTEMPTS"`
	Ratio                 float64 `toml:"ratio" env:"RATIO"`
	RealAttemptMultiplier int     `toml:"real_attempt_multiplier" env:"REAL_ATTEMPT_MULTIPLIER"`
	AutoRatio             bool    `toml:"auto_ratio" env:"AUTO_RATIO"`
	Seed                  uint64  `toml:"seed" env:"SEED"` // 0 picks a seed at startup
	ChannelOrder          string  `toml:"channel_order" env:"CHANNEL_ORDER"`
}

// Detector selects and configures the face detector.
type Detector struct {
	Backend       string `toml:"backend" env:"BACKEND"`
	ModelPath     string `toml:"model_path" env:"MODEL_PATH"`
	PythonBin     string `toml:"python_bin" env:"PYTHON_BIN"`
	PythonScript  string `toml:"python_script" env:"PYTHON_SCRIPT"`
	ProbeFallback bool   `toml:"probe_fallback" env:"PROBE_FALLBACK"`
}

// Upload configures publishing the arrays to S3-compatible storage.
type Upload struct {
	Endpoint  string `toml:"endpoint" env:"ENDPOINT"`
	AccessKey string `toml:"access_key" env:"ACCESS_KEY"`
	SecretKey string `toml:"secret_key" env:"SECRET_KEY"`
	UseSSL    bool   `toml:"use_ssl" env:"USE_SSL"`
	Bucket    string `toml:"bucket" env:"BUCKET"`
	Prefix    string `toml:"prefix" env:"PREFIX"`
}

// Enabled reports whether an upload target is configured.
func (u Upload) Enabled() bool { return u.Endpoint != "" }

// Log configures logging output.
type Log struct {
	Level string `toml:"level" env:"LEVEL"`
	JSON  bool   `toml:"json" env:"JSON"`
}

// Config is the fully resolved configuration of a run.
type Config struct {
	DataRoot  string `toml:"data_root" env:"DATA_ROOT"`
	RealDir   string `toml:"real_dir" env:"REAL_DIR"` // relative to DataRoot unless absolute
	FakeDir   string `toml:"fake_dir" env:"FAKE_DIR"` // relative to DataRoot unless absolute
	OutputDir string `toml:"output_dir" env:"OUTPUT_DIR"`
	XFile     string `toml:"x_file" env:"X_FILE"`
	YFile     string `toml:"y_file" env:"Y_FILE"`

	DatabaseURL string `toml:"database_url" env:"DATABASE_URL"`
	MetricsFile string `toml:"metrics_file" env:"METRICS_FILE"`

	Sampling Sampling `toml:"sampling" envPrefix:"SAMPLING_"`
	Detector Detector `toml:"detector" envPrefix:"DETECTOR_"`
	Upload   Upload   `toml:"upload" envPrefix:"UPLOAD_"`
	Log      Log      `toml:"log" envPrefix:"LOG_"`
}

// Default returns the configuration used when nothing overrides it. The sampling values
// and directory layout are the ones the reference datasets were built with.
func Default() Config {
	p := sampler.DefaultParams()
	return Config{
		DataRoot:  "data",
		RealDir:   "original_sequences/actors/c23/videos",
		FakeDir:   "manipulated_sequences/DeepFakeDetection/c23/videos",
		OutputDir: ".",
		XFile:     "X.npy",
		YFile:     "y.npy",
		Sampling: Sampling{
			Width:                 p.Width,
			Height:                p.Height,
			BaseSample:            p.BaseSample,
			FaceThreshold:         p.FaceThreshold,
			BaseAttempts:          p.BaseAttempts,
			Ratio:                 p.Ratio,
			RealAttemptMultiplier: p.RealAttemptMultiplier,
			ChannelOrder:          string(p.Order),
		},
		Detector: Detector{
			Backend:      BackendYuNet,
			ModelPath:    "models/face_detection_yunet_2023mar.onnx",
			PythonBin:    "python3",
			PythonScript: "python/face_worker.py",
		},
		Upload: Upload{
			Bucket: "datasets",
			Prefix: "facesampler",
		},
		Log: Log{Level: "info"},
	}
}

// Load builds the configuration from defaults, the optional TOML file at path and
// FACESAMPLER_* environment variables, in that order of precedence (lowest first).
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		file, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = postgresURLFromEnv()
	}
	return &cfg, nil
}

// postgresURLFromEnv builds a connection string from the conventional POSTGRES_* variables.
func postgresURLFromEnv() string {
	host := os.Getenv("POSTGRES_HOST")
	if host == "" {
		return ""
	}
	user := os.Getenv("POSTGRES_USER")
	pass := os.Getenv("POSTGRES_PASSWORD")
	name := os.Getenv("POSTGRES_DB")
	port := os.Getenv("POSTGRES_PORT")
	if port == "" {
		port = "5432"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, pass, host, port, name)
}

// Params converts the sampling section into sampler parameters.
func (c *Config) Params() sampler.Params {
	s := c.Sampling
	return sampler.Params{
		Width:                 s.Width,
		Height:                s.Height,
		BaseSample:            s.BaseSample,
		MaxVideosPerLabel:     s.MaxVideosPerLabel,
		FaceThreshold:         s.FaceThreshold,
		BaseAttempts:          s.BaseAttempts,
		Ratio:                 s.Ratio,
		RealAttemptMultiplier: s.RealAttemptMultiplier,
		AutoRatio:             s.AutoRatio,
		Order:                 sampler.ChannelOrder(strings.ToLower(s.ChannelOrder)),
	}
}

// LabelDirs returns the video directory of each label.
func (c *Config) LabelDirs() map[dataset.Label]string {
	resolve := func(dir string) string {
		if filepath.IsAbs(dir) {
			return dir
		}
		return filepath.Join(c.DataRoot, dir)
	}
	return map[dataset.Label]string{
		dataset.Real: resolve(c.RealDir),
		dataset.Fake: resolve(c.FakeDir),
	}
}

// XPath is where the sample array is written.
func (c *Config) XPath() string { return filepath.Join(c.OutputDir, c.XFile) }

// YPath is where the label array is written.
func (c *Config) YPath() string { return filepath.Join(c.OutputDir, c.YFile) }

// Validate checks everything a sampling run needs before any video is opened.
func (c *Config) Validate() error {
	if err := c.Params().Validate(); err != nil {
		return err
	}
	if c.XFile == "" || c.YFile == "" || c.XFile == c.YFile {
		return fmt.Errorf("x_file and y_file must be distinct non-empty names")
	}

	for label, dir := range c.LabelDirs() {
		info, err := os.Stat(dir)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("%s video directory %s does not exist", label, dir)
			}
			return fmt.Errorf("unable to access %s video directory: %w", label, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("%s video path %s is not a directory", label, dir)
		}
	}

	switch c.Detector.Backend {
	case BackendYuNet:
		if c.Detector.ModelPath == "" {
			return errors.New("detector model_path is required for the yunet backend")
		}
	case BackendPython:
		if c.Detector.PythonScript == "" {
			return errors.New("detector python_script is required for the python backend")
		}
	default:
		return fmt.Errorf("unknown detector backend %q (use %s or %s)", c.Detector.Backend, BackendYuNet, BackendPython)
	}

	if c.Upload.Enabled() && c.Upload.Bucket == "" {
		return errors.New("upload bucket is required when an upload endpoint is set")
	}
	return nil
}
