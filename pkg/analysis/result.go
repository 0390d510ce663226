package analysis

import (
	"fmt"
	"strings"
)

// Result is the per-track output of an analyzer. It is immutable once returned.
type Result struct {
	TrackID     string    `json:"track_id"`
	TempoBPM    float64   `json:"tempo_bpm"`
	Beats       []float64 `json:"beats"`        // Beat timestamps in seconds, ascending.
	FrameEnergy []float64 `json:"frame_energy"` // Smoothed RMS energy per frame.
	FrameTimes  []float64 `json:"frame_times"`  // Frame timestamps in seconds, 1:1 with FrameEnergy.
	Key         Key       `json:"key"`
	Duration    float64   `json:"duration"`
	SampleRate  int       `json:"sample_rate"`
}

// Validate checks the invariants downstream stages rely on.
func (r *Result) Validate() error {
	if r.TempoBPM <= 0 {
		return fmt.Errorf("tempo must be positive, got %f", r.TempoBPM)
	}
	if r.Duration <= 0 {
		return fmt.Errorf("duration must be positive, got %f", r.Duration)
	}
	if len(r.FrameEnergy) != len(r.FrameTimes) {
		return fmt.Errorf("energy/timestamp length mismatch: %d != %d", len(r.FrameEnergy), len(r.FrameTimes))
	}
	for i := 1; i < len(r.Beats); i++ {
		if r.Beats[i] <= r.Beats[i-1] {
			return fmt.Errorf("beats not strictly ascending at index %d", i)
		}
	}
	for i, e := range r.FrameEnergy {
		if e < 0 {
			return fmt.Errorf("negative energy at frame %d", i)
		}
	}
	return nil
}

// Bars returns the number of bars (4 beats per bar) in the track.
func (r *Result) Bars() float64 {
	if len(r.Beats) == 0 {
		return 0
	}
	return float64(len(r.Beats)) / 4.0
}

// Key is a pitch class, 0 = C through 11 = B.
type Key int

var keyNames = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

const (
	KeyC Key = iota
	KeyCSharp
	KeyD
	KeyDSharp
	KeyE
	KeyF
	KeyFSharp
	KeyG
	KeyGSharp
	KeyA
	KeyASharp
	KeyB
)

func (k Key) String() string {
	if k < 0 || int(k) >= len(keyNames) {
		return fmt.Sprintf("Key(%d)", int(k))
	}
	return keyNames[k]
}

// ParseKey parses a pitch class name such as "C#" or "a".
func ParseKey(s string) (Key, error) {
	for i, name := range keyNames {
		if strings.EqualFold(name, strings.TrimSpace(s)) {
			return Key(i), nil
		}
	}
	return 0, fmt.Errorf("invalid key: %q", s)
}

// MarshalText encodes the key by name.
func (k Key) MarshalText() ([]byte, error) {
	if k < 0 || int(k) >= len(keyNames) {
		return nil, fmt.Errorf("invalid key: %d", int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText decodes a key name.
func (k *Key) UnmarshalText(text []byte) error {
	parsed, err := ParseKey(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
