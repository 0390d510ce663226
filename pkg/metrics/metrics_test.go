package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordSegment(t *testing.T) {
	SegmentsTotal.Reset()

	RecordSegment(true)
	RecordSegment(true)
	RecordSegment(false)

	assert.Equal(t, 2.0, testutil.ToFloat64(SegmentsTotal.WithLabelValues("rendered")))
	assert.Equal(t, 1.0, testutil.ToFloat64(SegmentsTotal.WithLabelValues("skipped")))
}

func TestRecordTrackAndMix(t *testing.T) {
	TracksTotal.Reset()
	MixesTotal.Reset()

	RecordTrack("analyzed")
	RecordTrack("failed")
	RecordMix(false)

	assert.Equal(t, 1.0, testutil.ToFloat64(TracksTotal.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(MixesTotal.WithLabelValues("error")))
	assert.Equal(t, 0.0, testutil.ToFloat64(MixesTotal.WithLabelValues("success")))
}

func TestRecordDuration(t *testing.T) {
	StageDuration.Reset()

	RecordDuration("render", 1.5)
	RecordDuration("render", 0.2)

	assert.Equal(t, 1, testutil.CollectAndCount(StageDuration))
}
