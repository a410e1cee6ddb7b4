package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordStageTransition(t *testing.T) {
	stageTransitionsTotal.Reset()

	RecordStageTransition("transcribe", "processing")
	RecordStageTransition("transcribe", "processing")
	RecordStageTransition("transcribe", "failed")

	assert.Equal(t, 2.0, testutil.ToFloat64(stageTransitionsTotal.WithLabelValues("transcribe", "processing")))
	assert.Equal(t, 1.0, testutil.ToFloat64(stageTransitionsTotal.WithLabelValues("transcribe", "failed")))
	assert.Equal(t, 0.0, testutil.ToFloat64(stageTransitionsTotal.WithLabelValues("diarize", "completed")))
}

func TestRecordStageDuration(t *testing.T) {
	stageDuration.Reset()

	RecordStageDuration("diarize", 12.5)
	RecordStageDuration("acquire", 0.2)

	assert.Equal(t, 2, testutil.CollectAndCount(stageDuration))
}

func TestRecordSegments(t *testing.T) {
	before := testutil.ToFloat64(segmentsEmittedTotal)

	RecordSegments(7)

	assert.Equal(t, before+7, testutil.ToFloat64(segmentsEmittedTotal))
}
