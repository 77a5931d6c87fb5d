package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/andresmejia3/facesampler/internal/dataset"
	"github.com/andresmejia3/facesampler/internal/sampler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "facesampler.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestDefaultsMatchReferenceRun(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	p := cfg.Params()
	assert.Equal(t, 100, p.Width)
	assert.Equal(t, 100, p.Height)
	assert.Equal(t, 5, p.BaseSample)
	assert.Equal(t, 0.90, p.FaceThreshold)
	assert.Equal(t, 50, p.BaseAttempts)
	assert.Equal(t, 9.0, p.Ratio)
	assert.Equal(t, sampler.DefaultRealAttemptMultiplier, p.RealAttemptMultiplier)
	assert.Equal(t, sampler.BGR, p.Order)

	dirs := cfg.LabelDirs()
	assert.Equal(t, filepath.Join("data", "original_sequences/actors/c23/videos"), dirs[dataset.Real])
	assert.Equal(t, filepath.Join("data", "manipulated_sequences/DeepFakeDetection/c23/videos"), dirs[dataset.Fake])
	assert.Equal(t, "X.npy", cfg.XPath())
	assert.Equal(t, "y.npy", cfg.YPath())
}

func TestLoadPrecedence(t *testing.T) {
	path := writeConfig(t, `
data_root = "/corpus"
fake_dir = "/elsewhere/fake"

[sampling]
base_sample = 2
ratio = 3.0
channel_order = "RGB"

[detector]
backend = "python"
`)
	t.Setenv("FACESAMPLER_SAMPLING_BASE_SAMPLE", "4")
	t.Setenv("FACESAMPLER_OUTPUT_DIR", "/out")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Sampling.BaseSample, "environment wins over the file")
	assert.Equal(t, 3.0, cfg.Sampling.Ratio, "file wins over defaults")
	assert.Equal(t, 50, cfg.Sampling.BaseAttempts, "defaults survive when nothing overrides them")
	assert.Equal(t, BackendPython, cfg.Detector.Backend)
	assert.Equal(t, sampler.RGB, cfg.Params().Order)
	assert.Equal(t, "/out/X.npy", cfg.XPath())

	dirs := cfg.LabelDirs()
	assert.Equal(t, "/corpus/original_sequences/actors/c23/videos", dirs[dataset.Real])
	assert.Equal(t, "/elsewhere/fake", dirs[dataset.Fake])
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, "[sampling]\nbase_samples = 3\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestDatabaseURLFromPostgresEnv(t *testing.T) {
	t.Setenv("POSTGRES_HOST", "db")
	t.Setenv("POSTGRES_USER", "user")
	t.Setenv("POSTGRES_PASSWORD", "pw")
	t.Setenv("POSTGRES_DB", "runs")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "postgres://user:pw@db:5432/runs", cfg.DatabaseURL)

	t.Setenv("FACESAMPLER_DATABASE_URL", "postgres://explicit/db")
	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, "postgres://explicit/db", cfg.DatabaseURL)
}

func TestValidate(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "real"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "fake"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "file"), nil, 0644))

	valid := func() *Config {
		cfg := Default()
		cfg.DataRoot = root
		cfg.RealDir = "real"
		cfg.FakeDir = "fake"
		return &cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "Valid", mutate: func(*Config) {}},
		{name: "Missing real dir", mutate: func(c *Config) { c.RealDir = "nope" }, wantErr: true},
		{name: "Fake dir is a file", mutate: func(c *Config) { c.FakeDir = "file" }, wantErr: true},
		{name: "Bad threshold", mutate: func(c *Config) { c.Sampling.FaceThreshold = 1.5 }, wantErr: true},
		{name: "Same output names", mutate: func(c *Config) { c.YFile = c.XFile }, wantErr: true},
		{name: "Unknown backend", mutate: func(c *Config) { c.Detector.Backend = "haar" }, wantErr: true},
		{name: "YuNet without model", mutate: func(c *Config) { c.Detector.ModelPath = "" }, wantErr: true},
		{name: "Upload without bucket", mutate: func(c *Config) { c.Upload.Endpoint = "minio:9000"; c.Upload.Bucket = "" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
