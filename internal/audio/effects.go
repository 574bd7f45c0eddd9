package audio

import (
	"math"
	"sync"
)

// Effects are the optional acoustic effects of a capture request.
type Effects struct {
	AutoGain   bool
	EchoCancel bool
}

// ConfigureEffects applies e to g before the graph starts and returns the
// effects that could not be honoured. It never fails the capture.
func ConfigureEffects(g Graph, e Effects) []*EffectWarning {
	return g.SetEffects(e)
}

// capabilities lists the effects a backend implements natively.
type capabilities struct {
	echoCancel bool
}

// effectState is embedded by graphs. It applies the requested effects once
// per graph and runs the software AGC on the capture thread.
type effectState struct {
	once     sync.Once
	warnings []*EffectWarning
	agc      *autoGain
}

func (s *effectState) configure(e Effects, caps capabilities) []*EffectWarning {
	s.once.Do(func() {
		if e.AutoGain {
			s.agc = newAutoGain()
		}
		if e.EchoCancel && !caps.echoCancel {
			s.warnings = append(s.warnings, &EffectWarning{
				Effect: "echo cancellation",
				Reason: "not supported by this backend",
			})
		}
	})
	return s.warnings
}

func (s *effectState) process(buf []float32) {
	if s.agc != nil {
		s.agc.process(buf)
	}
}

const (
	agcTarget  = 0.5
	agcMinGain = 0.25
	agcMaxGain = 8.0
	agcAttack  = 0.5
	agcRelease = 0.02
	agcGate    = 1e-4
)

// autoGain is a peak-tracking gain stage. Gain drops quickly when the input
// gets loud and recovers slowly; near-silent buffers leave it unchanged.
type autoGain struct {
	gain float64
}

func newAutoGain() *autoGain {
	return &autoGain{gain: 1}
}

func (a *autoGain) process(buf []float32) {
	var peak float64
	for _, s := range buf {
		if v := math.Abs(float64(s)); v > peak {
			peak = v
		}
	}

	if peak > agcGate {
		desired := math.Min(math.Max(agcTarget/peak, agcMinGain), agcMaxGain)
		rate := agcRelease
		if desired < a.gain {
			rate = agcAttack
		}
		a.gain += (desired - a.gain) * rate
	}

	g := float32(a.gain)
	for i, s := range buf {
		v := s * g
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		buf[i] = v
	}
}
