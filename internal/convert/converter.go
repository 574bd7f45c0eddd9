package convert

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/petems/recstream/internal/audio"
)

const fullScale = 32767

// Converter turns native float32 buffers into destination PCM. Each call is
// independent: nothing is carried across buffers, so a dropped buffer only
// loses its own slice of audio.
//
// A Converter is not safe for concurrent use; it is driven by one capture
// thread.
type Converter struct {
	src     audio.Format
	dst     Format
	quality Quality
	ratio   float64
	kernel  *sincKernel

	mixed     []float32
	resampled []float32
}

// New builds a converter from the graph's native format to dst.
func New(src audio.Format, dst Format, quality Quality) (*Converter, error) {
	if err := dst.Validate(); err != nil {
		return nil, err
	}
	if src.SampleRate <= 0 || math.IsInf(src.SampleRate, 0) || math.IsNaN(src.SampleRate) || src.Channels <= 0 {
		return nil, &UnsupportedFormatError{
			Format: dst,
			Reason: fmt.Sprintf("invalid native format %gHz - %d channels", src.SampleRate, src.Channels),
		}
	}

	ratio := float64(dst.SampleRate) / src.SampleRate
	if ratio > maxRatio || ratio < 1.0/maxRatio {
		return nil, &UnsupportedFormatError{
			Format: dst,
			Reason: fmt.Sprintf("conversion from %gHz is not possible", src.SampleRate),
		}
	}

	c := &Converter{
		src:     src,
		dst:     dst,
		quality: quality,
		ratio:   ratio,
	}
	if ratio != 1 && quality != QualityLow {
		c.kernel = newSincKernel(quality, math.Min(1, ratio))
	}
	return c, nil
}

// Frames returns how many destination frames srcFrames native frames yield.
func (c *Converter) Frames(srcFrames int) int {
	n := float64(srcFrames) * float64(c.dst.SampleRate) / c.src.SampleRate
	return int(math.Floor(n + 1e-9))
}

// Capacity returns the destination sample capacity, all channels included,
// for srcFrames native frames.
func (c *Converter) Capacity(srcFrames int) int {
	return c.Frames(srcFrames) * int(c.dst.Channels)
}

// Convert resamples, remaps channels and encodes one native buffer. The
// returned slice is newly allocated and owned by the caller.
func (c *Converter) Convert(native []float32) ([]byte, error) {
	srcCh := c.src.Channels
	dstCh := int(c.dst.Channels)

	if len(native) == 0 {
		return nil, &ConversionError{Err: fmt.Errorf("%w: empty buffer", ErrBadBuffer)}
	}
	if len(native)%srcCh != 0 {
		return nil, &ConversionError{
			Samples: len(native),
			Err:     fmt.Errorf("%w: not a whole number of %d-channel frames", ErrBadBuffer, srcCh),
		}
	}

	srcFrames := len(native) / srcCh
	dstFrames := c.Frames(srcFrames)
	if dstFrames == 0 {
		return nil, &ConversionError{
			Samples: len(native),
			Err:     fmt.Errorf("%w: too short to produce a frame", ErrBadBuffer),
		}
	}

	c.mixed = grow(c.mixed, srcFrames*dstCh)
	if err := mixChannels(c.mixed, native, srcCh, dstCh); err != nil {
		return nil, &ConversionError{Samples: len(native), Err: err}
	}

	samples := c.mixed[:dstFrames*dstCh]
	if c.ratio != 1 {
		c.resampled = grow(c.resampled, dstFrames*dstCh)
		c.resample(c.resampled, c.mixed, dstCh, srcFrames, dstFrames)
		samples = c.resampled
	}

	out := make([]byte, len(samples)*2)
	encodePCM16(out, samples)
	return out, nil
}

func (c *Converter) resample(dst, src []float32, channels, srcFrames, dstFrames int) {
	step := 1 / c.ratio
	for ch := 0; ch < channels; ch++ {
		for j := 0; j < dstFrames; j++ {
			t := float64(j) * step
			var v float64
			if c.kernel != nil {
				v = c.kernel.interpolate(src, ch, channels, srcFrames, t)
			} else {
				v = interpolateLinear(src, ch, channels, srcFrames, t)
			}
			dst[j*channels+ch] = float32(v)
		}
	}
}

// mixChannels maps interleaved frames from srcCh to dstCh channels: any
// layout downmixes to mono by averaging, mono duplicates into stereo, and
// wider layouts keep their leading channels.
func mixChannels(dst, src []float32, srcCh, dstCh int) error {
	frames := len(src) / srcCh
	for f := 0; f < frames; f++ {
		in := src[f*srcCh : (f+1)*srcCh]
		for _, v := range in {
			if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
				return fmt.Errorf("%w: non-finite sample in frame %d", ErrBadBuffer, f)
			}
		}

		switch {
		case dstCh == 1:
			var sum float32
			for _, v := range in {
				sum += v
			}
			dst[f] = sum / float32(srcCh)
		case srcCh == 1:
			for ch := 0; ch < dstCh; ch++ {
				dst[f*dstCh+ch] = in[0]
			}
		default:
			copy(dst[f*dstCh:(f+1)*dstCh], in[:dstCh])
		}
	}
	return nil
}

func interpolateLinear(src []float32, ch, stride, frames int, t float64) float64 {
	i := int(t)
	if i >= frames-1 {
		return float64(src[(frames-1)*stride+ch])
	}
	frac := t - float64(i)
	a := float64(src[i*stride+ch])
	b := float64(src[(i+1)*stride+ch])
	return a*(1-frac) + b*frac
}

func encodePCM16(out []byte, samples []float32) {
	for i, s := range samples {
		v := float64(s)
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(math.Round(v*fullScale))))
	}
}

// DecodePCM16 reads little-endian 16-bit samples.
func DecodePCM16(pcm []byte) []int16 {
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return samples
}

func grow(buf []float32, n int) []float32 {
	if cap(buf) < n {
		return make([]float32, n)
	}
	return buf[:n]
}
