// Package metrics collects per-run sampling counters and writes them in the Prometheus
// textfile format for node_exporter's textfile collector.
package metrics

import (
	"github.com/andresmejia3/facesampler/internal/sampler"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder holds the collectors of one run on a private registry.
type Recorder struct {
	registry *prometheus.Registry

	VideosTotal     *prometheus.CounterVec
	SamplesTotal    *prometheus.CounterVec
	AttemptsTotal   *prometheus.CounterVec
	VideoDuration   *prometheus.HistogramVec
	DatasetSamples  prometheus.Gauge
	LastRunUnixTime prometheus.Gauge
}

// New registers the collectors on a fresh registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		VideosTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "facesampler_videos_total",
			Help: "Videos processed, by label and outcome status",
		}, []string{"label", "status"}),
		SamplesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "facesampler_samples_total",
			Help: "Face crops appended to the dataset, by label",
		}, []string{"label"}),
		AttemptsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "facesampler_frame_attempts_total",
			Help: "Frames decoded and run through detection, by label",
		}, []string{"label"}),
		VideoDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "facesampler_video_duration_seconds",
			Help:    "Wall time spent sampling one video",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"label"}),
		DatasetSamples: factory.NewGauge(prometheus.GaugeOpts{
			Name: "facesampler_dataset_samples",
			Help: "Rows in the last saved dataset",
		}),
		LastRunUnixTime: factory.NewGauge(prometheus.GaugeOpts{
			Name: "facesampler_last_run_timestamp_seconds",
			Help: "Unix time the last run finished",
		}),
	}
}

// Observe records one finished video.
func (r *Recorder) Observe(v sampler.VideoReport) {
	label := string(v.Label)
	r.VideosTotal.WithLabelValues(label, v.Outcome.Status.String()).Inc()
	r.SamplesTotal.WithLabelValues(label).Add(float64(v.Outcome.Samples))
	r.AttemptsTotal.WithLabelValues(label).Add(float64(v.Outcome.Attempts))
	r.VideoDuration.WithLabelValues(label).Observe(v.Elapsed.Seconds())
}

// Finish stamps the run end and the size of the saved dataset.
func (r *Recorder) Finish(samples int) {
	r.DatasetSamples.Set(float64(samples))
	r.LastRunUnixTime.SetToCurrentTime()
}

// WriteTextfile writes every collector to path, atomically.
func (r *Recorder) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r.registry)
}
