// Package sampler builds a labeled face-crop dataset from two directories of videos.
//
// Each video is visited once. Frames are tried in a random order until the video has
// produced the label's quota of face-bearing frames or its attempt budget runs out.
// The real label's quota is scaled by Ratio, and its budget by RealAttemptMultiplier,
// so that saved faces stay roughly balanced when one label has far fewer videos.
package sampler

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"math/rand/v2"
	"time"

	"github.com/andresmejia3/facesampler/internal/dataset"
	"github.com/andresmejia3/facesampler/internal/types"
	"github.com/andresmejia3/facesampler/internal/utils"
	"github.com/rs/zerolog"
)

// DefaultRealAttemptMultiplier scales the attempt budget of the real label.
const DefaultRealAttemptMultiplier = 5

var (
	// ErrLabelDir is returned when a label directory cannot be listed.
	ErrLabelDir = errors.New("label directory unavailable")
	// ErrNoFrames marks a video that reports zero frames.
	ErrNoFrames = errors.New("video has no frames")
	// ErrDetectorUnavailable is wrapped by detectors whose backend is gone for good.
	// A video aborted with it stops the whole pass.
	ErrDetectorUnavailable = errors.New("face detector unavailable")
)

// Video is an open, seekable video source.
type Video interface {
	FrameCount() int
	Frame(index int) (image.Image, error)
	Close() error
}

// Opener opens videos by path.
type Opener interface {
	Open(path string) (Video, error)
}

// Detector finds faces in a frame. Detections below threshold must not be returned.
type Detector interface {
	Detect(frame image.Image, threshold float64) ([]types.Detection, error)
}

// Params are the knobs of a sampling pass.
type Params struct {
	Width             int
	Height            int
	BaseSample        int
	MaxVideosPerLabel int // 0 means no cap
	FaceThreshold     float64
	BaseAttempts      int
	Ratio             float64
	// RealAttemptMultiplier ties the real label's attempt budget to BaseAttempts.
	RealAttemptMultiplier int
	// AutoRatio derives Ratio from the number of videos found for each label.
	AutoRatio bool
	Order     ChannelOrder
}

// DefaultParams mirrors the settings the reference datasets were generated with.
func DefaultParams() Params {
	return Params{
		Width:                 100,
		Height:                100,
		BaseSample:            5,
		FaceThreshold:         0.90,
		BaseAttempts:          50,
		Ratio:                 9,
		RealAttemptMultiplier: DefaultRealAttemptMultiplier,
		Order:                 BGR,
	}
}

// Validate checks the parameter constraints.
func (p Params) Validate() error {
	switch {
	case p.Width <= 0 || p.Height <= 0:
		return fmt.Errorf("dimensions must be positive, got %dx%d", p.Width, p.Height)
	case p.BaseSample < 1:
		return fmt.Errorf("base sample must be >= 1, got %d", p.BaseSample)
	case p.MaxVideosPerLabel < 0:
		return fmt.Errorf("max videos per label must be >= 0, got %d", p.MaxVideosPerLabel)
	case p.FaceThreshold <= 0 || p.FaceThreshold >= 1:
		return fmt.Errorf("face threshold must be in (0,1), got %g", p.FaceThreshold)
	case p.BaseAttempts < 1:
		return fmt.Errorf("base attempts must be >= 1, got %d", p.BaseAttempts)
	case !p.AutoRatio && p.Ratio <= 0:
		return fmt.Errorf("ratio must be positive, got %g", p.Ratio)
	case p.RealAttemptMultiplier < 1:
		return fmt.Errorf("real attempt multiplier must be >= 1, got %d", p.RealAttemptMultiplier)
	case p.Order != BGR && p.Order != RGB:
		return fmt.Errorf("unknown channel order %q", p.Order)
	}
	return nil
}

// Plan is the per-label quota and attempt budget.
type Plan struct {
	Label       dataset.Label
	Sample      int
	MaxAttempts int
}

// PlanFor derives the quota and budget for label.
func (p Params) PlanFor(label dataset.Label) Plan {
	if label == dataset.Real {
		sample := int(math.Round(float64(p.BaseSample) * p.Ratio))
		if sample < 1 {
			sample = 1
		}
		return Plan{Label: label, Sample: sample, MaxAttempts: p.BaseAttempts * p.RealAttemptMultiplier}
	}
	return Plan{Label: label, Sample: p.BaseSample, MaxAttempts: p.BaseAttempts}
}

// VideoReport is handed to the Observer after every video.
type VideoReport struct {
	Label     dataset.Label
	Index     int // zero-based position within the label
	Total     int // videos that will be processed for the label
	Path      string
	Outcome   Outcome
	Elapsed   time.Duration
	Remaining time.Duration // estimate for the rest of the label
}

// Observer receives progress. It must not touch the dataset.
type Observer func(VideoReport)

// LabelSummary aggregates the outcomes of one label.
type LabelSummary struct {
	Plan        Plan
	Found       int
	Processed   int
	Succeeded   int
	Skipped     int
	Aborted     int
	Attempts    int
	FramesSaved int
	Samples     int
}

// Report summarizes a sampling pass.
type Report struct {
	Ratio   float64
	Labels  map[dataset.Label]*LabelSummary
	Elapsed time.Duration
}

// Sampler runs sampling passes. It is not safe for concurrent use.
type Sampler struct {
	opener   Opener
	detector Detector
	rng      *rand.Rand
	logger   zerolog.Logger

	// OnVideo, when set, is called after each video.
	OnVideo Observer
}

// New returns a Sampler. rng drives the per-video frame permutations; pass a seeded
// source to make the sampled frame order reproducible.
func New(opener Opener, detector Detector, rng *rand.Rand, logger zerolog.Logger) *Sampler {
	return &Sampler{
		opener:   opener,
		detector: detector,
		rng:      rng,
		logger:   logger.With().Str("component", "sampler").Logger(),
	}
}

// SampleDataset walks every label directory in dirs and returns the accumulated dataset.
//
// Per-video failures never surface here: they are reported through OnVideo and the
// Report. An error is returned only for unusable parameters, an unlistable label
// directory, a detector that went away (ErrDetectorUnavailable) or context
// cancellation. The last two also return the partial dataset.
func (s *Sampler) SampleDataset(ctx context.Context, dirs map[dataset.Label]string, p Params) (*dataset.Dataset, *Report, error) {
	if err := p.Validate(); err != nil {
		return nil, nil, err
	}

	listings := make(map[dataset.Label][]string, len(dataset.Labels))
	for _, label := range dataset.Labels {
		dir, ok := dirs[label]
		if !ok {
			return nil, nil, fmt.Errorf("%w: no directory configured for %s", ErrLabelDir, label)
		}
		videos, err := utils.ListVideos(dir)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %s: %w", ErrLabelDir, label, err)
		}
		listings[label] = videos
	}

	if p.AutoRatio {
		nReal, nFake := len(listings[dataset.Real]), len(listings[dataset.Fake])
		if nReal == 0 || nFake == 0 {
			if p.Ratio <= 0 {
				return nil, nil, fmt.Errorf("cannot derive ratio from %d real / %d fake videos", nReal, nFake)
			}
			s.logger.Warn().Int("real", nReal).Int("fake", nFake).Float64("ratio", p.Ratio).
				Msg("cannot derive ratio from listings, keeping configured ratio")
		} else {
			p.Ratio = float64(nReal) / float64(nFake)
			s.logger.Info().Int("real", nReal).Int("fake", nFake).Float64("ratio", p.Ratio).Msg("derived ratio from listings")
		}
	}

	start := time.Now()
	ds := dataset.New(p.Width, p.Height)
	report := &Report{Ratio: p.Ratio, Labels: make(map[dataset.Label]*LabelSummary)}

	for _, label := range dataset.Labels {
		plan := p.PlanFor(label)
		videos := listings[label]
		sum := &LabelSummary{Plan: plan, Found: len(videos)}
		report.Labels[label] = sum

		total := len(videos)
		if p.MaxVideosPerLabel > 0 && total > p.MaxVideosPerLabel {
			total = p.MaxVideosPerLabel
		}

		s.logger.Info().Str("label", string(label)).Int("videos", total).Int("quota", plan.Sample).
			Int("max_attempts", plan.MaxAttempts).Msg("sampling label")

		var avg time.Duration
		for i, path := range videos[:total] {
			if err := ctx.Err(); err != nil {
				report.Elapsed = time.Since(start)
				return ds, report, err
			}

			videoStart := time.Now()
			out := s.SampleVideo(path, plan, p, ds)
			elapsed := time.Since(videoStart)

			sum.Processed++
			sum.Attempts += out.Attempts
			sum.FramesSaved += out.FramesSaved
			sum.Samples += out.Samples
			switch out.Status {
			case Success:
				sum.Succeeded++
			case Skipped:
				sum.Skipped++
			case Aborted:
				sum.Aborted++
			}

			avg = (avg*time.Duration(i) + elapsed) / time.Duration(i+1)
			if s.OnVideo != nil {
				s.OnVideo(VideoReport{
					Label:     label,
					Index:     i,
					Total:     total,
					Path:      path,
					Outcome:   out,
					Elapsed:   elapsed,
					Remaining: avg * time.Duration(total-i-1),
				})
			}

			if out.Status == Aborted && errors.Is(out.Reason, ErrDetectorUnavailable) {
				report.Elapsed = time.Since(start)
				return ds, report, fmt.Errorf("%s %s: %w", label, path, out.Reason)
			}
		}
	}

	report.Elapsed = time.Since(start)
	return ds, report, nil
}

// SampleVideo runs the attempt loop for one video and appends its faces to ds.
// The video is always closed before returning.
func (s *Sampler) SampleVideo(path string, plan Plan, p Params, ds *dataset.Dataset) Outcome {
	log := s.logger.With().Str("video", path).Logger()

	video, err := s.opener.Open(path)
	if err != nil {
		log.Debug().Err(err).Msg("skipping unreadable video")
		return Outcome{Status: Skipped, Reason: err}
	}
	defer func() {
		if err := video.Close(); err != nil {
			log.Debug().Err(err).Msg("closing video")
		}
	}()

	out := Outcome{FrameCount: video.FrameCount()}
	if out.FrameCount <= 0 {
		out.Status = Skipped
		out.Reason = ErrNoFrames
		return out
	}

	order := s.rng.Perm(out.FrameCount)
	limit := min(plan.MaxAttempts, out.FrameCount)

	for out.FramesSaved < plan.Sample && out.Attempts < limit {
		index := order[out.Attempts]
		out.Attempts++

		saved, err := s.sampleFrame(video, index, plan.Label, p, ds)
		out.Samples += saved
		if err != nil {
			log.Debug().Err(err).Int("frame", index).Int("attempt", out.Attempts).Msg("abandoning video")
			out.Status = Aborted
			out.Reason = fmt.Errorf("frame %d: %w", index, err)
			return out
		}
		if saved > 0 {
			out.FramesSaved++
		}
	}

	out.Status = Success
	if out.FramesSaved >= plan.Sample {
		out.Stop = QuotaReached
	} else {
		out.Stop = BudgetExhausted
	}
	return out
}

// sampleFrame decodes one frame, detects faces and appends every usable crop.
// It reports how many samples were appended, including those appended before an error.
func (s *Sampler) sampleFrame(video Video, index int, label dataset.Label, p Params, ds *dataset.Dataset) (int, error) {
	frame, err := video.Frame(index)
	if err != nil {
		return 0, fmt.Errorf("decode: %w", err)
	}
	if frame == nil {
		return 0, fmt.Errorf("decode: %w", ErrNilFrame)
	}

	faces, err := s.detector.Detect(frame, p.FaceThreshold)
	if err != nil {
		return 0, fmt.Errorf("detect: %w", err)
	}

	saved := 0
	for _, face := range faces {
		sample, ok, err := Normalize(frame, face.Box, p.Width, p.Height, p.Order)
		if err != nil {
			return saved, fmt.Errorf("crop: %w", err)
		}
		if !ok {
			continue
		}
		if err := ds.Append(sample, label); err != nil {
			return saved, fmt.Errorf("crop: %w", err)
		}
		saved++
	}
	return saved, nil
}
