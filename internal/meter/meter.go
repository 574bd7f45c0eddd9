// Package meter tracks the loudness of converted audio in dBFS.
package meter

import (
	"encoding/binary"
	"math"
	"sync"
)

// Floor is reported for silence and before any audio was observed.
const Floor = -160.0

const fullScale = 32767

// Amplitude is a loudness snapshot.
type Amplitude struct {
	Current float64
	Max     float64
}

// Meter computes peak amplitude per buffer and keeps the running maximum.
// Observe is called from the capture goroutine while Amplitude is read from
// the control surface.
type Meter struct {
	mu      sync.Mutex
	current float64
	max     float64
}

func New() *Meter {
	return &Meter{current: Floor, max: Floor}
}

// Observe records the peak of samples and returns it in dBFS.
func (m *Meter) Observe(samples []int16) float64 {
	var peak int32
	for _, s := range samples {
		v := int32(s)
		if v < 0 {
			v = -v
		}
		if v > peak {
			peak = v
		}
	}
	return m.record(peak)
}

// ObservePCM is Observe over little-endian 16-bit PCM.
func (m *Meter) ObservePCM(pcm []byte) float64 {
	var peak int32
	for i := 0; i+1 < len(pcm); i += 2 {
		v := int32(int16(binary.LittleEndian.Uint16(pcm[i:])))
		if v < 0 {
			v = -v
		}
		if v > peak {
			peak = v
		}
	}
	return m.record(peak)
}

func (m *Meter) record(peak int32) float64 {
	// -32768 would read above full scale.
	if peak > fullScale {
		peak = fullScale
	}
	db := Floor
	if peak > 0 {
		db = 20 * math.Log10(float64(peak)/fullScale)
	}

	m.mu.Lock()
	m.current = db
	if db > m.max {
		m.max = db
	}
	m.mu.Unlock()
	return db
}

func (m *Meter) Amplitude() Amplitude {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Amplitude{Current: m.current, Max: m.max}
}

// Reset returns both readings to Floor.
func (m *Meter) Reset() {
	m.mu.Lock()
	m.current = Floor
	m.max = Floor
	m.mu.Unlock()
}
