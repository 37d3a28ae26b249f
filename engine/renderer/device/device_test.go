package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAlignUp(t *testing.T) {
	assert.Equal(t, uint64(0), AlignUp(0, 16))
	assert.Equal(t, uint64(16), AlignUp(1, 16))
	assert.Equal(t, uint64(16), AlignUp(16, 16))
	assert.Equal(t, uint64(272), AlignUp(257, 16))
	assert.Equal(t, uint64(7), AlignUp(7, 0))
}

func TestQueueKindString(t *testing.T) {
	assert.Equal(t, "transfer", QueueKindTransfer.String())
	assert.Equal(t, "graphics", QueueKindGraphics.String())
}
