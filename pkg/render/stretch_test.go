package render

import (
	"math"
	"testing"

	"github.com/nzoschke/segmix/pkg/audio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// zeroCrossings counts sign changes in one channel.
func zeroCrossings(x []float64) int {
	n := 0
	for i := 1; i < len(x); i++ {
		if (x[i-1] < 0) != (x[i] < 0) {
			n++
		}
	}
	return n
}

func TestStretchLength(t *testing.T) {
	buf := tone(3, 220, 0.5)

	for _, rate := range []float64{0.8, 0.95, 1.05, 1.25, 2} {
		out := Stretch(buf, rate)
		assert.Equal(t, int(math.Round(float64(buf.Frames())/rate)), out.Frames(), "rate %v", rate)
		assert.Equal(t, buf.Channels, out.Channels)
		assert.Equal(t, buf.SampleRate, out.SampleRate)
	}
}

func TestStretchPreservesPitch(t *testing.T) {
	buf := tone(4, 440, 0.5)
	inRate := float64(zeroCrossings(buf.Channel(0))) / buf.Duration()

	for _, rate := range []float64{0.8, 1.25} {
		out := Stretch(buf, rate)
		outRate := float64(zeroCrossings(out.Channel(0))) / out.Duration()
		assert.InEpsilon(t, inRate, outRate, 0.05, "rate %v", rate)
	}
}

func TestStretchKeepsChannelsAligned(t *testing.T) {
	buf := tone(2, 300, 0.5)
	out := Stretch(buf, 1.1)

	left, right := out.Channel(0), out.Channel(1)
	assert.Equal(t, left, right)
}

func TestStretchPassThrough(t *testing.T) {
	buf := tone(1, 220, 0.5)

	same := Stretch(buf, 1)
	assert.Equal(t, buf.Samples, same.Samples)
	same.Samples[0] = 9
	assert.NotEqual(t, 9.0, buf.Samples[0])

	tiny := &audio.Buffer{Samples: []float64{0.1, 0.2, 0.3}, Channels: 1, SampleRate: testRate}
	assert.Equal(t, tiny.Samples, Stretch(tiny, 1.5).Samples)

	assert.Equal(t, buf.Samples, Stretch(buf, 0).Samples)
}

func TestHannWindow(t *testing.T) {
	w := hannWindow(4)
	require.Len(t, w, 4)
	assert.InDeltaSlice(t, []float64{0, 0.5, 1, 0.5}, w, 1e-12)
}

func TestStretchKeepsLevelFromFirstFrame(t *testing.T) {
	buf := audio.NewBuffer(2*testRate, 2, testRate)
	for i := range buf.Samples {
		buf.Samples[i] = 0.5
	}

	for _, rate := range []float64{0.8, 1.25} {
		out := Stretch(buf, rate)
		require.NotEmpty(t, out.Samples)
		assert.Equal(t, []float64{0.5, 0.5}, out.Samples[:2], "rate %v", rate)
		for i, v := range out.Samples {
			if !assert.InDelta(t, 0.5, v, 1e-9, "rate %v sample %d", rate, i) {
				break
			}
		}
	}
}
