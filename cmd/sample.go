package cmd

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/andresmejia3/facesampler/internal/config"
	"github.com/andresmejia3/facesampler/internal/dataset"
	"github.com/andresmejia3/facesampler/internal/logging"
	"github.com/andresmejia3/facesampler/internal/metrics"
	"github.com/andresmejia3/facesampler/internal/sampler"
	"github.com/andresmejia3/facesampler/internal/store"
	"github.com/andresmejia3/facesampler/internal/upload"
	"github.com/andresmejia3/facesampler/internal/utils"
	"github.com/andresmejia3/facesampler/internal/vision"
	"github.com/andresmejia3/facesampler/internal/worker"
	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const lockFile = ".facesampler.lock"

// Options holds the flag values of the sample command. Only flags the user actually set
// override the loaded configuration.
type Options struct {
	DataRoot  string
	RealDir   string
	FakeDir   string
	OutputDir string

	Width                 int
	Height                int
	BaseSample            int
	MaxVideos             int
	FaceThreshold         float64
	BaseAttempts          int
	Ratio                 float64
	RealAttemptMultiplier int
	AutoRatio             bool
	Seed                  uint64
	ChannelOrder          string

	Backend       string
	ModelPath     string
	ProbeFallback bool

	MetricsFile string
	NoUpload    bool
}

var sampleOpts Options

var sampleCmd = &cobra.Command{
	Use:   "sample",
	Short: "Sample face crops from the real and fake video directories into X.npy / y.npy",
	RunE: func(cmd *cobra.Command, args []string) error {
		applySampleFlags(cmd.Flags(), &sampleOpts, Cfg)
		if err := validateSampleFlags(Cfg); err != nil {
			return err
		}
		return runSample(cmd.Context(), Cfg, sampleOpts.NoUpload)
	},
}

func init() {
	bindSampleFlags(sampleCmd.Flags(), &sampleOpts)
	rootCmd.AddCommand(sampleCmd)
}

// bindSampleFlags registers the sample flags on f, defaulting to config.Default.
func bindSampleFlags(f *pflag.FlagSet, o *Options) {
	def := config.Default()
	f.StringVarP(&o.DataRoot, "data-root", "d", def.DataRoot, "Root directory the real/fake subpaths are resolved against")
	f.StringVar(&o.RealDir, "real-dir", def.RealDir, "Directory of real videos (relative to --data-root unless absolute)")
	f.StringVar(&o.FakeDir, "fake-dir", def.FakeDir, "Directory of fake videos (relative to --data-root unless absolute)")
	f.StringVarP(&o.OutputDir, "output", "o", def.OutputDir, "Directory X.npy and y.npy are written to")

	s := def.Sampling
	f.IntVar(&o.Width, "width", s.Width, "Width of each face crop")
	f.IntVar(&o.Height, "height", s.Height, "Height of each face crop")
	f.IntVarP(&o.BaseSample, "base-sample", "s", s.BaseSample, "Face-bearing frames to save per fake video")
	f.IntVarP(&o.MaxVideos, "max-videos", "m", s.MaxVideosPerLabel, "Videos to process per label (0 = all)")
	f.Float64VarP(&o.FaceThreshold, "threshold", "t", s.FaceThreshold, "Minimum detector confidence for a face")
	f.IntVarP(&o.BaseAttempts, "base-attempts", "a", s.BaseAttempts, "Frames to try per fake video")
	f.Float64VarP(&o.Ratio, "ratio", "r", s.Ratio, "Real-to-fake video ratio (majority over minority); scales the real quota")
	f.IntVar(&o.RealAttemptMultiplier, "real-attempt-multiplier", s.RealAttemptMultiplier, "Multiplier applied to --base-attempts for real videos")
	f.BoolVar(&o.AutoRatio, "auto-ratio", false, "Derive --ratio from the number of videos found per label")
	f.Uint64Var(&o.Seed, "seed", 0, "Seed for frame selection (0 = random, logged)")
	f.StringVar(&o.ChannelOrder, "channel-order", s.ChannelOrder, "Channel order of saved crops (bgr or rgb)")

	f.StringVar(&o.Backend, "backend", def.Detector.Backend, "Face detector backend (yunet or python)")
	f.StringVar(&o.ModelPath, "model", def.Detector.ModelPath, "YuNet ONNX model path")
	f.BoolVar(&o.ProbeFallback, "probe-fallback", false, "Ask ffprobe for the frame count when the container reports none")

	f.StringVar(&o.MetricsFile, "metrics-file", "", "Write run metrics in Prometheus textfile format to this path")
	f.BoolVar(&o.NoUpload, "no-upload", false, "Skip uploading the arrays even if an upload endpoint is configured")
}

// applySampleFlags copies every flag the user set onto cfg.
func applySampleFlags(flags *pflag.FlagSet, o *Options, cfg *config.Config) {
	set := func(name string, apply func()) {
		if flags.Changed(name) {
			apply()
		}
	}
	set("data-root", func() { cfg.DataRoot = o.DataRoot })
	set("real-dir", func() { cfg.RealDir = o.RealDir })
	set("fake-dir", func() { cfg.FakeDir = o.FakeDir })
	set("output", func() { cfg.OutputDir = o.OutputDir })
	set("width", func() { cfg.Sampling.Width = o.Width })
	set("height", func() { cfg.Sampling.Height = o.Height })
	set("base-sample", func() { cfg.Sampling.BaseSample = o.BaseSample })
	set("max-videos", func() { cfg.Sampling.MaxVideosPerLabel = o.MaxVideos })
	set("threshold", func() { cfg.Sampling.FaceThreshold = o.FaceThreshold })
	set("base-attempts", func() { cfg.Sampling.BaseAttempts = o.BaseAttempts })
	set("ratio", func() { cfg.Sampling.Ratio = o.Ratio })
	set("real-attempt-multiplier", func() { cfg.Sampling.RealAttemptMultiplier = o.RealAttemptMultiplier })
	set("auto-ratio", func() { cfg.Sampling.AutoRatio = o.AutoRatio })
	set("seed", func() { cfg.Sampling.Seed = o.Seed })
	set("channel-order", func() { cfg.Sampling.ChannelOrder = o.ChannelOrder })
	set("backend", func() { cfg.Detector.Backend = o.Backend })
	set("model", func() { cfg.Detector.ModelPath = o.ModelPath })
	set("probe-fallback", func() { cfg.Detector.ProbeFallback = o.ProbeFallback })
	set("metrics-file", func() { cfg.MetricsFile = o.MetricsFile })
}

// validateSampleFlags ensures the resolved configuration is usable before any detector is started.
func validateSampleFlags(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// runSample orchestrates a sampling run: lock, detector, sampler, persistence, ledger, metrics and upload.
func runSample(ctx context.Context, cfg *config.Config, noUpload bool) error {
	// 1. One run per output directory at a time
	if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	lock := flock.New(filepath.Join(cfg.OutputDir, lockFile))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire output lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another run is writing to %s", cfg.OutputDir)
	}
	defer lock.Unlock()

	// 2. Run identity & seed
	runID := uuid.NewString()
	seed := cfg.Sampling.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	params := cfg.Params()
	runLogger := log.With().Str("run", runID).Logger()
	logger := logging.WithComponent("sample").With().Str("run", runID).Logger()
	logger.Info().Uint64("seed", seed).Str("backend", cfg.Detector.Backend).Msg("starting run")

	// 3. Detector
	detector, closeDetector, err := newDetector(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeDetector()

	// 4. Ledger
	if DB != nil {
		if err := DB.CreateRun(ctx, runID, seed, params); err != nil {
			return fmt.Errorf("register run: %w", err)
		}
	}

	rec := metrics.New()
	progress := newProgress(logger)

	opener := vision.CaptureOpener{ProbeFallback: cfg.Detector.ProbeFallback, Ctx: ctx}
	s := sampler.New(opener, detector, rand.New(rand.NewPCG(seed, seed)), runLogger)
	s.OnVideo = func(r sampler.VideoReport) {
		rec.Observe(r)
		progress(r)
		if DB != nil {
			if err := DB.RecordOutcome(ctx, runID, r); err != nil {
				logger.Warn().Err(err).Str("video", r.Path).Msg("failed to record outcome")
			}
		}
	}

	// 5. Sample
	ds, report, err := s.SampleDataset(ctx, cfg.LabelDirs(), params)
	if err != nil {
		status := store.RunFailed
		if errors.Is(err, context.Canceled) {
			status = store.RunCancelled
			if ds != nil {
				logger.Warn().Int("samples", ds.Len()).Msg("run interrupted, arrays not written")
			}
		}
		finishRun(runID, status, 0, logger)
		return err
	}

	// 6. Persist
	if err := ds.Save(cfg.XPath(), cfg.YPath()); err != nil {
		finishRun(runID, store.RunFailed, 0, logger)
		return err
	}
	nReal, nFake := ds.Counts()
	logger.Info().Int("samples", ds.Len()).Int("real", nReal).Int("fake", nFake).
		Str("x", cfg.XPath()).Str("y", cfg.YPath()).Msg("dataset saved")

	fmt.Println(renderSummary(report))
	fmt.Fprintf(os.Stderr, "\n🏁 Run %s complete. Saved %d samples (%d real, %d fake) in %s.\n",
		runID, ds.Len(), nReal, nFake, fmtTime(report.Elapsed.Seconds()))

	// 7. Metrics
	rec.Finish(ds.Len())
	if cfg.MetricsFile != "" {
		if err := rec.WriteTextfile(cfg.MetricsFile); err != nil {
			logger.Warn().Err(err).Str("path", cfg.MetricsFile).Msg("failed to write metrics")
		}
	}

	// 8. Upload
	if cfg.Upload.Enabled() && !noUpload {
		if err := publish(ctx, cfg, runID, logger); err != nil {
			finishRun(runID, store.RunFailed, ds.Len(), logger)
			return err
		}
	}

	finishRun(runID, store.RunCompleted, ds.Len(), logger)
	return nil
}

// newDetector starts the configured backend and returns a cleanup func.
func newDetector(ctx context.Context, cfg *config.Config) (sampler.Detector, func(), error) {
	switch cfg.Detector.Backend {
	case config.BackendPython:
		w, err := worker.NewPythonWorker(ctx, 0, cfg.Detector.PythonBin, cfg.Detector.PythonScript)
		if err != nil {
			return nil, nil, fmt.Errorf("python worker startup failed: %w", err)
		}
		return w, func() {
			// DRAIN: Wait for process to exit and capture final stderr logs
			if err := w.Close(); err != nil && ctx.Err() == nil {
				utils.ShowError("Python worker exited with an error", err, w.Cmd)
			}
		}, nil
	default:
		y, err := vision.NewYuNet(cfg.Detector.ModelPath)
		if err != nil {
			return nil, nil, err
		}
		return y, func() { y.Close() }, nil
	}
}

// newProgress returns the per-video progress reporter: a bar on a terminal, log lines otherwise.
func newProgress(logger zerolog.Logger) func(sampler.VideoReport) {
	if !isatty.IsTerminal(os.Stderr.Fd()) && !isatty.IsCygwinTerminal(os.Stderr.Fd()) {
		return func(r sampler.VideoReport) {
			logger.Info().
				Str("label", string(r.Label)).
				Str("video", filepath.Base(r.Path)).
				Str("progress", fmt.Sprintf("%d/%d", r.Index+1, r.Total)).
				Str("outcome", r.Outcome.Status.String()).
				Int("samples", r.Outcome.Samples).
				Str("eta", fmtTime(r.Remaining.Seconds())).
				Msg("video done")
		}
	}

	var bar *progressbar.ProgressBar
	return func(r sampler.VideoReport) {
		if r.Index == 0 {
			if bar != nil {
				bar.Finish()
				fmt.Fprintln(os.Stderr)
			}
			bar = progressbar.NewOptions(r.Total,
				progressbar.OptionSetDescription(fmt.Sprintf("🎞️  Sampling %s", r.Label)),
				progressbar.OptionSetWriter(os.Stderr), // Write bar to Stderr
				progressbar.OptionShowCount(),
				progressbar.OptionSetPredictTime(true),
			)
		}
		bar.Add(1)
		if r.Index+1 == r.Total {
			bar.Finish()
			fmt.Fprintln(os.Stderr)
			bar = nil
		}
	}
}

func finishRun(runID, status string, samples int, logger zerolog.Logger) {
	if DB == nil {
		return
	}
	// Background: the run context may already be cancelled.
	if err := DB.FinishRun(context.Background(), runID, status, samples); err != nil {
		logger.Warn().Err(err).Msg("failed to finish run in ledger")
	}
}

func publish(ctx context.Context, cfg *config.Config, runID string, logger zerolog.Logger) error {
	u, err := upload.New(upload.Config{
		Endpoint:  cfg.Upload.Endpoint,
		AccessKey: cfg.Upload.AccessKey,
		SecretKey: cfg.Upload.SecretKey,
		UseSSL:    cfg.Upload.UseSSL,
		Bucket:    cfg.Upload.Bucket,
		Prefix:    cfg.Upload.Prefix,
	})
	if err != nil {
		return err
	}
	if err := u.EnsureBucket(ctx); err != nil {
		return err
	}
	for _, file := range []string{cfg.XPath(), cfg.YPath()} {
		key, err := u.UploadFile(ctx, runID, file)
		if err != nil {
			return err
		}
		logger.Info().Str("bucket", cfg.Upload.Bucket).Str("key", key).Msg("uploaded")
	}
	return nil
}

// renderSummary tabulates the per-label totals of a run.
func renderSummary(report *sampler.Report) string {
	headers := []string{"LABEL", "VIDEOS", "SUCCESS", "SKIPPED", "ABORTED", "ATTEMPTS", "FRAMES", "SAMPLES", "QUOTA", "MAX ATTEMPTS"}
	aligns := []columnAlignment{alignLeft}
	for range headers[1:] {
		aligns = append(aligns, alignRight)
	}

	var rows [][]string
	for _, label := range dataset.Labels {
		sum, ok := report.Labels[label]
		if !ok {
			continue
		}
		rows = append(rows, []string{
			string(label),
			fmt.Sprintf("%d/%d", sum.Processed, sum.Found),
			strconv.Itoa(sum.Succeeded),
			strconv.Itoa(sum.Skipped),
			strconv.Itoa(sum.Aborted),
			strconv.Itoa(sum.Attempts),
			strconv.Itoa(sum.FramesSaved),
			strconv.Itoa(sum.Samples),
			strconv.Itoa(sum.Plan.Sample),
			strconv.Itoa(sum.Plan.MaxAttempts),
		})
	}
	return fmt.Sprintf("Ratio %s\n%s", strconv.FormatFloat(report.Ratio, 'g', 4, 64), renderTable(headers, rows, aligns))
}

func fmtTime(seconds float64) string {
	duration := time.Duration(seconds * float64(time.Second))
	h := int(duration.Hours())
	m := int(duration.Minutes()) % 60
	s := int(duration.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
