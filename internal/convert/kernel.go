package convert

import (
	"math"

	"github.com/mjibson/go-dsp/window"
)

// Table points per half of the window.
const windowResolution = 512

// sincKernel is a windowed-sinc interpolator. The cutoff is normalised to
// the source Nyquist frequency, so downsampling low-passes before decimating.
type sincKernel struct {
	cutoff    float64
	halfWidth float64
	window    []float64
}

func newSincKernel(q Quality, cutoff float64) *sincKernel {
	zeroCrossings := 8
	if q == QualityHigh {
		zeroCrossings = 16
	}
	return &sincKernel{
		cutoff:    cutoff,
		halfWidth: float64(zeroCrossings) / cutoff,
		window:    window.Blackman(2*windowResolution + 1),
	}
}

// interpolate evaluates channel ch of an interleaved buffer at fractional
// frame position t. Taps falling outside the buffer are skipped and the
// remaining weights renormalised, which keeps unity gain at the edges.
func (k *sincKernel) interpolate(src []float32, ch, stride, frames int, t float64) float64 {
	lo := int(math.Ceil(t - k.halfWidth))
	if lo < 0 {
		lo = 0
	}
	hi := int(math.Floor(t + k.halfWidth))
	if hi > frames-1 {
		hi = frames - 1
	}

	var sum, weights float64
	for i := lo; i <= hi; i++ {
		w := k.weight(t - float64(i))
		sum += w * float64(src[i*stride+ch])
		weights += w
	}
	if weights == 0 {
		return 0
	}
	return sum / weights
}

func (k *sincKernel) weight(d float64) float64 {
	idx := int(math.Round((d/k.halfWidth + 1) * windowResolution))
	if idx < 0 || idx >= len(k.window) {
		return 0
	}
	return k.cutoff * sinc(k.cutoff*d) * k.window[idx]
}

func sinc(x float64) float64 {
	if x == 0 {
		return 1
	}
	px := math.Pi * x
	return math.Sin(px) / px
}
