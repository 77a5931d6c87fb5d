package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/andresmejia3/facesampler/internal/dataset"
	"github.com/andresmejia3/facesampler/internal/sampler"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserve(t *testing.T) {
	r := New()

	r.Observe(sampler.VideoReport{
		Label:   dataset.Real,
		Outcome: sampler.Outcome{Status: sampler.Success, Attempts: 12, FramesSaved: 10, Samples: 11},
		Elapsed: 2 * time.Second,
	})
	r.Observe(sampler.VideoReport{
		Label:   dataset.Real,
		Outcome: sampler.Outcome{Status: sampler.Aborted, Attempts: 3, FramesSaved: 1, Samples: 1, Reason: errors.New("boom")},
		Elapsed: time.Second,
	})
	r.Observe(sampler.VideoReport{
		Label:   dataset.Fake,
		Outcome: sampler.Outcome{Status: sampler.Skipped},
	})

	assert.Equal(t, 1.0, testutil.ToFloat64(r.VideosTotal.WithLabelValues("real", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.VideosTotal.WithLabelValues("real", "aborted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.VideosTotal.WithLabelValues("fake", "skipped")))
	assert.Equal(t, 12.0, testutil.ToFloat64(r.SamplesTotal.WithLabelValues("real")))
	assert.Equal(t, 15.0, testutil.ToFloat64(r.AttemptsTotal.WithLabelValues("real")))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.AttemptsTotal.WithLabelValues("fake")))
	assert.Equal(t, 2, testutil.CollectAndCount(r.VideoDuration))
}

func TestWriteTextfile(t *testing.T) {
	r := New()
	r.Observe(sampler.VideoReport{Label: dataset.Fake, Outcome: sampler.Outcome{Status: sampler.Success, Samples: 5}})
	r.Finish(5)

	path := filepath.Join(t.TempDir(), "facesampler.prom")
	require.NoError(t, r.WriteTextfile(path))

	body, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(body), `facesampler_samples_total{label="fake"} 5`)
	assert.Contains(t, string(body), "facesampler_dataset_samples 5")
}
