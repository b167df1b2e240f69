package capture

import (
	"context"
	"fmt"
	"math"
	"time"
)

const (
	// fpsStabilityThreshold is the maximum allowed FPS standard deviation
	// as a fraction of mean FPS. 30 FPS mean → stable if stddev < 4.5.
	fpsStabilityThreshold = 0.15
)

// FPSStats summarizes frame timing measured during warmup.
type FPSStats struct {
	// FramesReceived is the number of frames observed.
	FramesReceived int
	// Duration is the actual measurement window.
	Duration time.Duration
	// FPSMean is the overall frame rate.
	FPSMean float64
	// FPSStdDev is the standard deviation of instantaneous FPS.
	FPSStdDev float64
	// FPSMin is the minimum instantaneous FPS.
	FPSMin float64
	// FPSMax is the maximum instantaneous FPS.
	FPSMax float64
	// IsStable is true when stddev < 15% of mean.
	IsStable bool
}

// Warmup consumes frames from ch for the given duration and measures FPS
// stability. Call it after Source.Start, before handing frames to the
// landmark pipeline, to verify the source can sustain its configured rate.
//
// Blocks for the full duration. Returns an error if fewer than 2 frames
// arrive or the channel closes.
func Warmup(ctx context.Context, ch <-chan Frame, duration time.Duration) (*FPSStats, error) {
	warmupCtx, cancel := context.WithTimeout(ctx, duration)
	defer cancel()

	start := time.Now()
	frameTimes := make([]time.Time, 0, 128)

	for {
		select {
		case <-warmupCtx.Done():
			elapsed := time.Since(start)
			if len(frameTimes) < 2 {
				return nil, fmt.Errorf(
					"capture: not enough frames received during warmup (got %d, need at least 2)",
					len(frameTimes))
			}
			return CalculateFPSStats(frameTimes, elapsed), nil

		case frame, ok := <-ch:
			if !ok {
				return nil, fmt.Errorf("capture: source closed during warmup")
			}
			frameTimes = append(frameTimes, frame.Timestamp)
		}
	}
}

// CalculateFPSStats computes FPS statistics from frame timestamps:
// mean rate over the window, instantaneous per-interval rates, min/max,
// standard deviation, and a stability verdict (stddev < 15% of mean).
func CalculateFPSStats(frameTimes []time.Time, totalDuration time.Duration) *FPSStats {
	n := len(frameTimes)
	if n == 0 {
		return &FPSStats{Duration: totalDuration}
	}

	fpsMean := float64(n) / totalDuration.Seconds()

	instantaneous := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		if interval := frameTimes[i].Sub(frameTimes[i-1]).Seconds(); interval > 0 {
			instantaneous = append(instantaneous, 1.0/interval)
		}
	}
	if len(instantaneous) == 0 {
		return &FPSStats{
			FramesReceived: n,
			Duration:       totalDuration,
			FPSMean:        fpsMean,
		}
	}

	fpsMin, fpsMax := instantaneous[0], instantaneous[0]
	for _, fps := range instantaneous {
		if fps < fpsMin {
			fpsMin = fps
		}
		if fps > fpsMax {
			fpsMax = fps
		}
	}

	var sumSquares float64
	for _, fps := range instantaneous {
		diff := fps - fpsMean
		sumSquares += diff * diff
	}
	fpsStdDev := math.Sqrt(sumSquares / float64(len(instantaneous)))

	return &FPSStats{
		FramesReceived: n,
		Duration:       totalDuration,
		FPSMean:        fpsMean,
		FPSStdDev:      fpsStdDev,
		FPSMin:         fpsMin,
		FPSMax:         fpsMax,
		IsStable:       fpsStdDev < fpsMean*fpsStabilityThreshold,
	}
}
