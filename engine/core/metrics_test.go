package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMetricsRecordTransfer(t *testing.T) {
	MetricsReset()
	t.Cleanup(MetricsReset)

	MetricsRecordTransfer(64, 2*time.Millisecond)
	MetricsRecordTransfer(32, 4*time.Millisecond)

	count, bytes, avg := MetricsTransfers()
	assert.Equal(t, uint64(2), count)
	assert.Equal(t, uint64(96), bytes)
	assert.InDelta(t, 3.0, avg, 1e-9)
}

func TestMetricsRollingWindow(t *testing.T) {
	MetricsReset()
	t.Cleanup(MetricsReset)

	for i := 0; i < int(AVG_COUNT); i++ {
		MetricsRecordTransfer(1, time.Millisecond)
	}
	for i := 0; i < int(AVG_COUNT); i++ {
		MetricsRecordTransfer(1, 3*time.Millisecond)
	}

	count, _, avg := MetricsTransfers()
	assert.Equal(t, uint64(2*int(AVG_COUNT)), count)
	assert.InDelta(t, 3.0, avg, 1e-9)
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, LogLevelDebug, ParseLogLevel("DEBUG"))
	assert.Equal(t, LogLevelWarn, ParseLogLevel("warning"))
	assert.Equal(t, LogLevelError, ParseLogLevel(" error "))
	assert.Equal(t, LogLevelInfo, ParseLogLevel("verbose"))
}
