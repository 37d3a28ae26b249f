package core

import (
	"sync"
	"time"
)

const AVG_COUNT uint8 = 30

type MetricsState struct {
	mu sync.Mutex

	TransferAVGCounter uint8
	MStimes            [AVG_COUNT]float64
	MSavg              float64
	Transfers          uint64
	Bytes              uint64
}

var metricsState = &MetricsState{}

// MetricsRecordTransfer accounts one completed buffer copy.
func MetricsRecordTransfer(bytes uint64, elapsed time.Duration) {
	metricsState.mu.Lock()
	defer metricsState.mu.Unlock()

	transferMS := float64(elapsed.Nanoseconds()) / float64(time.Millisecond)
	metricsState.MStimes[metricsState.TransferAVGCounter] = transferMS

	samples := uint64(AVG_COUNT)
	if metricsState.Transfers+1 < samples {
		samples = metricsState.Transfers + 1
	}
	sum := 0.0
	for i := uint64(0); i < samples; i++ {
		sum += metricsState.MStimes[i]
	}
	metricsState.MSavg = sum / float64(samples)

	metricsState.TransferAVGCounter++
	metricsState.TransferAVGCounter %= AVG_COUNT

	metricsState.Transfers++
	metricsState.Bytes += bytes
}

// MetricsTransfers returns the number of copies, the bytes moved and the
// rolling average copy time in milliseconds.
func MetricsTransfers() (uint64, uint64, float64) {
	metricsState.mu.Lock()
	defer metricsState.mu.Unlock()
	return metricsState.Transfers, metricsState.Bytes, metricsState.MSavg
}

func MetricsReset() {
	metricsState.mu.Lock()
	defer metricsState.mu.Unlock()
	metricsState.TransferAVGCounter = 0
	metricsState.MStimes = [AVG_COUNT]float64{}
	metricsState.MSavg = 0
	metricsState.Transfers = 0
	metricsState.Bytes = 0
}
