package sampler

import "fmt"

// Status classifies how sampling of one video ended.
type Status int

const (
	// Success means the loop ran to its normal end (quota reached or budget exhausted).
	Success Status = iota
	// Skipped means the video could not be opened or reported no frames.
	Skipped
	// Aborted means a frame-level failure ended the video early; earlier samples are kept.
	Aborted
)

func (s Status) String() string {
	switch s {
	case Success:
		return "success"
	case Skipped:
		return "skipped"
	case Aborted:
		return "aborted"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// StopReason tells why a successful video stopped sampling.
type StopReason int

const (
	NotStopped StopReason = iota
	QuotaReached
	BudgetExhausted
)

func (r StopReason) String() string {
	switch r {
	case QuotaReached:
		return "quota"
	case BudgetExhausted:
		return "budget"
	default:
		return ""
	}
}

// Outcome is the per-video result of the sampling loop.
type Outcome struct {
	Status      Status
	Stop        StopReason
	Reason      error
	FrameCount  int
	Attempts    int
	FramesSaved int
	Samples     int
}

func (o Outcome) String() string {
	switch o.Status {
	case Success:
		return fmt.Sprintf("success(%d samples, %d/%d attempts, stop=%s)", o.Samples, o.Attempts, o.FrameCount, o.Stop)
	case Skipped:
		return fmt.Sprintf("skipped(%v)", o.Reason)
	default:
		return fmt.Sprintf("aborted(%v, %d samples kept)", o.Reason, o.Samples)
	}
}
