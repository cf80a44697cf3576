package reception

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/rtpflow/frame"
	"github.com/opd-ai/rtpflow/handler"
	"github.com/opd-ai/rtpflow/srtcp"
)

func newTestConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.BufferSizeBytes = 8 * 1024
	cfg.LogLevel = "error"
	return cfg
}

func TestFlowDeliversRTPPacketToPullEndpoint(t *testing.T) {
	cfg := newTestConfig(t)
	f, err := New(cfg)
	require.NoError(t, err)

	f.Handlers().InstallPrimary(func(fr frame.Frame, flags int32) handler.Result {
		if fr.Kind() != frame.KindRTP {
			return handler.Result{Outcome: handler.NotHandled}
		}
		return handler.Result{Outcome: handler.Ready, Frames: []frame.Frame{fr}}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.Start(ctx)
	defer f.Stop()

	client, err := net.Dial("udp", f.LocalAddr())
	require.NoError(t, err)
	defer client.Close()

	pkt := &rtp.Packet{
		Header:  rtp.Header{Version: 2, PayloadType: 96, SequenceNumber: 1, SSRC: 1},
		Payload: []byte{1, 2, 3},
	}
	raw, err := pkt.Marshal()
	require.NoError(t, err)
	_, err = client.Write(raw)
	require.NoError(t, err)

	out, ok := f.Delivery().PullWithTimeout(2 * time.Second)
	require.True(t, ok)
	assert.Equal(t, frame.KindRTP, out.Kind())
}

func TestFlowPushModeInvokesCallback(t *testing.T) {
	cfg := newTestConfig(t)
	f, err := New(cfg)
	require.NoError(t, err)

	f.Handlers().InstallPrimary(func(fr frame.Frame, flags int32) handler.Result {
		return handler.Result{Outcome: handler.Ready, Frames: []frame.Frame{fr}}
	})

	received := make(chan frame.Frame, 1)
	require.NoError(t, f.Delivery().SetCallback(func(fr frame.Frame) {
		received <- fr
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.Start(ctx)
	defer f.Stop()

	client, err := net.Dial("udp", f.LocalAddr())
	require.NoError(t, err)
	defer client.Close()

	pkt := &rtp.Packet{Header: rtp.Header{Version: 2, SSRC: 7}, Payload: []byte{9}}
	raw, err := pkt.Marshal()
	require.NoError(t, err)
	_, err = client.Write(raw)
	require.NoError(t, err)

	select {
	case fr := <-received:
		assert.Equal(t, frame.KindRTP, fr.Kind())
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for pushed frame")
	}
}

func TestFlowDecryptsSRTCPBeforeDispatch(t *testing.T) {
	cfg := newTestConfig(t)
	f, err := New(cfg)
	require.NoError(t, err)

	var km srtcp.KeyMaterial
	for i := range km.EncKey {
		km.EncKey[i] = byte(i + 1)
		km.AuthKey[i] = byte(i + 2)
		km.SaltKey[i] = byte(i + 3)
	}
	ctx := srtcp.NewContext(km, km)
	f.SetSRTCPContext(ctx)

	f.Handlers().InstallPrimary(func(fr frame.Frame, flags int32) handler.Result {
		if fr.Kind() != frame.KindRTCP {
			return handler.Result{Outcome: handler.NotHandled}
		}
		return handler.Result{Outcome: handler.Ready, Frames: []frame.Frame{fr}}
	})

	fctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.Start(fctx)
	defer f.Stop()

	client, err := net.Dial("udp", f.LocalAddr())
	require.NoError(t, err)
	defer client.Close()

	bye := &rtcp.Goodbye{Sources: []uint32{42}}
	plain, err := bye.Marshal()
	require.NoError(t, err)

	const idx = 1
	packet := append([]byte{}, plain...)
	require.NoError(t, ctx.Encrypt(packet, idx))
	var indexField [srtcp.IndexLength]byte
	indexField[0] = 1 << 7
	indexField[3] = idx
	packet = append(packet, indexField[:]...)
	packet = ctx.AddAuthTag(packet, idx)

	_, err = client.Write(packet)
	require.NoError(t, err)

	out, ok := f.Delivery().PullWithTimeout(2 * time.Second)
	require.True(t, ok, "SRTCP-protected RTCP datagram should reach delivery once decrypted")
	assert.Equal(t, frame.KindRTCP, out.Kind())
}

func TestFlowThreadsConfiguredFlagsIntoHandlers(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Flags = 0x2a
	f, err := New(cfg)
	require.NoError(t, err)

	seen := make(chan int32, 1)
	f.Handlers().InstallPrimary(func(fr frame.Frame, flags int32) handler.Result {
		seen <- flags
		return handler.Result{Outcome: handler.Ready, Frames: []frame.Frame{fr}}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.Start(ctx)
	defer f.Stop()

	client, err := net.Dial("udp", f.LocalAddr())
	require.NoError(t, err)
	defer client.Close()

	pkt := &rtp.Packet{Header: rtp.Header{Version: 2, SSRC: 9}, Payload: []byte{1}}
	raw, err := pkt.Marshal()
	require.NoError(t, err)
	_, err = client.Write(raw)
	require.NoError(t, err)

	select {
	case flags := <-seen:
		assert.Equal(t, int32(0x2a), flags)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for handler invocation")
	}
}

func TestStopShutsDownBothGoroutines(t *testing.T) {
	cfg := newTestConfig(t)
	f, err := New(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.Start(ctx)
	f.Stop()

	select {
	case <-f.Done():
	case <-time.After(time.Second):
		t.Fatal("flow did not report done after Stop")
	}
}
