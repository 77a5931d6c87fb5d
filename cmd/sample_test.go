package cmd

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/andresmejia3/facesampler/internal/config"
	"github.com/andresmejia3/facesampler/internal/dataset"
	"github.com/andresmejia3/facesampler/internal/sampler"
	"github.com/andresmejia3/facesampler/internal/store"
	"github.com/gofrs/flock"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFmtTime(t *testing.T) {
	tests := []struct {
		seconds float64
		want    string
	}{
		{0, "00:00:00"},
		{65, "00:01:05"},
		{3661, "01:01:01"},
	}

	for _, tt := range tests {
		if got := fmtTime(tt.seconds); got != tt.want {
			t.Errorf("fmtTime(%v) = %v, want %v", tt.seconds, got, tt.want)
		}
	}
}

func TestApplySampleFlags(t *testing.T) {
	var o Options
	f := pflag.NewFlagSet("sample", pflag.ContinueOnError)
	bindSampleFlags(f, &o)
	require.NoError(t, f.Parse([]string{"--ratio", "3", "-s", "2", "--channel-order", "rgb", "--seed", "42", "-o", "/out"}))

	cfg := config.Default()
	cfg.Sampling.BaseAttempts = 77 // e.g. from a config file; no flag touches it
	applySampleFlags(f, &o, &cfg)

	assert.Equal(t, 3.0, cfg.Sampling.Ratio)
	assert.Equal(t, 2, cfg.Sampling.BaseSample)
	assert.Equal(t, "rgb", cfg.Sampling.ChannelOrder)
	assert.Equal(t, uint64(42), cfg.Sampling.Seed)
	assert.Equal(t, "/out", cfg.OutputDir)
	assert.Equal(t, 77, cfg.Sampling.BaseAttempts, "unset flags must not clobber loaded values")
	assert.Equal(t, config.BackendYuNet, cfg.Detector.Backend)
}

func TestRatioFlagHelp(t *testing.T) {
	var o Options
	f := pflag.NewFlagSet("sample", pflag.ContinueOnError)
	bindSampleFlags(f, &o)

	usage := f.Lookup("ratio").Usage
	assert.Contains(t, usage, "Real-to-fake")
	assert.NotContains(t, usage, "Fake-to-real")
}

func TestValidateSampleFlags(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "real"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "fake"), 0755))

	valid := func() *config.Config {
		cfg := config.Default()
		cfg.DataRoot = root
		cfg.RealDir = "real"
		cfg.FakeDir = "fake"
		return &cfg
	}

	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr bool
	}{
		{name: "Valid options", mutate: func(*config.Config) {}},
		{name: "Missing fake directory", mutate: func(c *config.Config) { c.FakeDir = "nope" }, wantErr: true},
		{name: "Invalid base sample", mutate: func(c *config.Config) { c.Sampling.BaseSample = 0 }, wantErr: true},
		{name: "Invalid threshold", mutate: func(c *config.Config) { c.Sampling.FaceThreshold = 1.5 }, wantErr: true},
		{name: "Invalid channel order", mutate: func(c *config.Config) { c.Sampling.ChannelOrder = "bgra" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			if err := validateSampleFlags(cfg); (err != nil) != tt.wantErr {
				t.Errorf("validateSampleFlags() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRunSampleRefusesLockedOutput(t *testing.T) {
	cfg := config.Default()
	cfg.OutputDir = t.TempDir()

	other := flock.New(filepath.Join(cfg.OutputDir, lockFile))
	locked, err := other.TryLock()
	require.NoError(t, err)
	require.True(t, locked)
	defer other.Unlock()

	err = runSample(context.Background(), &cfg, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "another run")
}

func TestRunSampleFailsWhenWorkerNeverReady(t *testing.T) {
	cfg := config.Default()
	cfg.OutputDir = t.TempDir()
	cfg.Detector.Backend = config.BackendPython
	cfg.Detector.PythonBin = "/bin/sh"
	cfg.Detector.PythonScript = os.DevNull // exits without a ready frame

	err := runSample(context.Background(), &cfg, true)
	require.Error(t, err)
	assert.ErrorIs(t, err, sampler.ErrDetectorUnavailable)
	assert.NoFileExists(t, cfg.XPath())
	assert.NoFileExists(t, cfg.YPath())
}

func TestRenderSummary(t *testing.T) {
	p := sampler.DefaultParams()
	report := &sampler.Report{
		Ratio: 9,
		Labels: map[dataset.Label]*sampler.LabelSummary{
			dataset.Real: {Plan: p.PlanFor(dataset.Real), Found: 3, Processed: 3, Succeeded: 2, Skipped: 1, Attempts: 120, FramesSaved: 90, Samples: 93},
			dataset.Fake: {Plan: p.PlanFor(dataset.Fake), Found: 30, Processed: 30, Succeeded: 29, Aborted: 1, Attempts: 160, FramesSaved: 148, Samples: 150},
		},
	}

	out := renderSummary(report)
	lines := strings.Split(out, "\n")
	require.NotEmpty(t, lines)
	assert.Equal(t, "Ratio 9", lines[0])

	realRow := strings.Index(out, "real")
	fakeRow := strings.Index(out, "fake")
	require.True(t, realRow > 0 && fakeRow > 0)
	assert.Less(t, realRow, fakeRow, "real is listed first")
	assert.Contains(t, out, "3/3")
	assert.Contains(t, out, "250") // real max attempts
	assert.Contains(t, out, "45")  // real quota
}

func TestRenderRunsAndOutcomes(t *testing.T) {
	started := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	finished := started.Add(90 * time.Second)

	out := renderRuns([]store.Run{
		{ID: "run-a", StartedAt: started, FinishedAt: &finished, Seed: 7, Params: sampler.DefaultParams(), Samples: 12, Status: store.RunCompleted},
		{ID: "run-b", StartedAt: started, Seed: 8, Params: sampler.DefaultParams(), Status: store.RunRunning},
	})
	assert.Contains(t, out, "run-a")
	assert.Contains(t, out, "00:01:30")
	assert.Contains(t, out, "5/50/9")
	assert.Contains(t, out, store.RunRunning)

	out = renderOutcomes([]store.VideoOutcome{
		{Label: "fake", Path: "/v/a.mp4", Status: "aborted", Reason: "frame 3: decode: boom", Samples: 1, FramesSaved: 1, Attempts: 2, FrameCount: 10},
	})
	assert.Contains(t, out, "/v/a.mp4")
	assert.Contains(t, out, "2/10")
	assert.Contains(t, out, "frame 3: decode: boom")
}

func TestRenderInspect(t *testing.T) {
	ds := dataset.New(1, 1)
	require.NoError(t, ds.Append(dataset.Sample{Width: 1, Height: 1, Pix: []float32{0, 0.5, 1}}, dataset.Real))
	require.NoError(t, ds.Append(dataset.Sample{Width: 1, Height: 1, Pix: []float32{0.25, 0.25, 0.25}}, dataset.Fake))
	require.NoError(t, ds.Append(dataset.Sample{Width: 1, Height: 1, Pix: []float32{0.25, 0.25, 0.25}}, dataset.Fake))

	out := renderInspect("X.npy", "y.npy", ds)
	assert.Contains(t, out, "(3, 1, 1, 3)")
	assert.Contains(t, out, "(3,)")
	assert.Contains(t, out, "33.3%")
	assert.Contains(t, out, "66.7%")
	assert.Contains(t, out, "min 0.0000  max 1.0000")

	empty := renderInspect("X.npy", "y.npy", dataset.New(100, 100))
	assert.Contains(t, empty, "(0, 100, 100, 3)")
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
	}
	for _, tt := range tests {
		r := bufio.NewReader(strings.NewReader(tt.input))
		if got := confirm(r, "?"); got != tt.want {
			t.Errorf("confirm(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestResetTargets(t *testing.T) {
	cfg := config.Default()
	cfg.OutputDir = "/out"

	assert.Equal(t, []string{cfg.XPath(), cfg.YPath()}, resetTargets(&cfg))
	assert.NotContains(t, resetTargets(&cfg), filepath.Join(cfg.OutputDir, lockFile))

	cfg.MetricsFile = "/metrics/facesampler.prom"
	assert.Equal(t, []string{cfg.XPath(), cfg.YPath(), "/metrics/facesampler.prom"}, resetTargets(&cfg))
}

func TestRemoveFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "X.npy")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))

	var warn bytes.Buffer
	removeFile(&warn, path)
	removeFile(&warn, path) // already gone: silent
	assert.NoFileExists(t, path)
	assert.Empty(t, warn.String())
}
