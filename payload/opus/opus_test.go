package opus

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/opd-ai/rtpflow/frame"
	"github.com/opd-ai/rtpflow/handler"
)

func TestDecodeRejectsNonRTPFrames(t *testing.T) {
	h := New()
	res := h.Decode(&frame.RawFrame{Bytes: []byte{1}}, 0)
	assert.Equal(t, handler.NotHandled, res.Outcome)
}

func TestLogBandwidthIgnoresNonDecodedFrames(t *testing.T) {
	h := New()
	res := h.LogBandwidth(&frame.RawFrame{Bytes: []byte{1}}, 0)
	assert.Equal(t, handler.Ok, res.Outcome)
}

func TestLogBandwidthPromotesDecodedFrameToReady(t *testing.T) {
	h := New()
	df := &DecodedFrame{Bandwidth: "wideband"}
	res := h.LogBandwidth(df, 0)
	assert.Equal(t, handler.Ready, res.Outcome)
	assert.Same(t, df, res.Frames[0])
}

func TestBytesToInt16PacksLittleEndian(t *testing.T) {
	out := bytesToInt16([]byte{0x01, 0x00, 0xff, 0xff})
	assert.Equal(t, []int16{1, -1}, out)
}
