package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/hwcodec/frame"
	"github.com/opd-ai/hwcodec/interfaces"
	"github.com/opd-ai/hwcodec/sim"
	"github.com/opd-ai/hwcodec/status"
)

func newTestEncoder(t *testing.T, gop int, opts ...sim.HALOption) (*Encoder, *sim.Encoder) {
	t.Helper()
	plugin := sim.NewEncoder(gop)
	e, err := NewEncoder(testConfig(), interfaces.CodingSim, plugin, sim.NewEncHAL(opts...))
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e, plugin
}

// testFrame returns a 16x16 frame filled with fill, drawn from the
// encoder's frame group.
func testFrame(t *testing.T, e *Encoder, pts int64, fill byte) *frame.Frame {
	t.Helper()
	info := frame.Info{Width: sim.DefaultWidth, Height: sim.DefaultHeight, PTS: pts}
	b, err := e.FrameGroup().Acquire(info.Size())
	require.NoError(t, err)
	data, err := b.Map()
	require.NoError(t, err)
	for i := range data {
		data[i] = fill
	}
	f := frame.NewWithInfo(info)
	require.NoError(t, f.SetBuffer(b))
	require.NoError(t, b.DecRef())
	return f
}

// putFrames builds n frames and queues them with an end-of-stream frame
// from a new goroutine.
func putFrames(t *testing.T, e *Encoder, n int) {
	t.Helper()
	frames := make([]*frame.Frame, 0, n+1)
	for i := 0; i < n; i++ {
		frames = append(frames, testFrame(t, e, int64(i), byte(i+1)))
	}
	eos := frame.New()
	eos.Flags = frame.FlagEOS
	frames = append(frames, eos)

	go func() {
		for _, f := range frames {
			err := e.PutFrame(f)
			assert.NoError(t, f.Release(), "the encoder keeps its own reference")
			if !assert.NoError(t, err) {
				return
			}
		}
	}()
}

func TestEncoderOrderAndPictureTypes(t *testing.T) {
	e, plugin := newTestEncoder(t, 4)
	putFrames(t, e, 6)

	frameSize := frame.Info{Width: sim.DefaultWidth, Height: sim.DefaultHeight}.Size()
	for i := 0; i < 6; i++ {
		pkt, err := e.GetPacket()
		require.NoError(t, err)
		require.False(t, pkt.IsEOS())
		data, err := pkt.Data()
		require.NoError(t, err)
		require.Len(t, data, sim.HeaderSize+frameSize)

		h, err := sim.ParseHeader(data)
		require.NoError(t, err)
		assert.Equal(t, i, h.POC)
		assert.Equal(t, int64(i), pkt.PTS)
		if i%4 == 0 {
			assert.Equal(t, sim.PictureI, h.Type)
			assert.NotZero(t, pkt.Flags&frame.PacketIntra)
		} else {
			assert.Equal(t, sim.PictureP, h.Type)
		}
		assert.Equal(t, byte(i+1), data[sim.HeaderSize])
		require.NoError(t, pkt.Release())
	}

	pkt, err := e.GetPacket()
	require.NoError(t, err)
	assert.True(t, pkt.IsEOS())
	assert.Zero(t, pkt.Len())
	assert.Equal(t, 6, plugin.Finished())

	s := e.Stats()
	assert.Equal(t, uint64(7), s.PacketsIn)
	assert.Equal(t, uint64(7), s.FramesOut)
	assert.Zero(t, s.TasksUsed)
}

func TestEncoderRejectsBufferlessFrame(t *testing.T) {
	e, _ := newTestEncoder(t, 0)
	assert.ErrorIs(t, e.PutFrame(frame.New()), status.ErrInvalidArgument)
	assert.ErrorIs(t, e.PutFrame(nil), status.ErrInvalidArgument)
}

func TestEncoderHardwareFailure(t *testing.T) {
	e, _ := newTestEncoder(t, 0, sim.WithFailPOC(1))
	putFrames(t, e, 3)

	for i := 0; i < 3; i++ {
		pkt, err := e.GetPacket()
		require.NoError(t, err)
		code, ok := pkt.Meta().Int(frame.MetaKeyErrInfo)
		if i == 1 {
			assert.True(t, ok)
			assert.Equal(t, int64(frame.ErrInfoHardware), code)
		} else {
			assert.False(t, ok, "packet %d", i)
		}
		require.NoError(t, pkt.Release())
	}
	pkt, err := e.GetPacket()
	require.NoError(t, err)
	assert.True(t, pkt.IsEOS())
	assert.Equal(t, uint64(1), e.Stats().HardwareErrors)
}

func TestEncoderDisableError(t *testing.T) {
	e, _ := newTestEncoder(t, 0, sim.WithFailPOC(1))
	require.NoError(t, e.Control(interfaces.CmdSetDisableError, true))
	putFrames(t, e, 3)

	var got []int
	for {
		pkt, err := e.GetPacket()
		require.NoError(t, err)
		if pkt.IsEOS() {
			break
		}
		data, err := pkt.Data()
		require.NoError(t, err)
		h, err := sim.ParseHeader(data)
		require.NoError(t, err)
		got = append(got, h.POC)
		require.NoError(t, pkt.Release())
	}
	assert.Equal(t, []int{0, 2}, got)
	assert.Equal(t, uint64(1), e.Stats().Discarded)
}

func TestEncoderTimeoutsAndControl(t *testing.T) {
	e, _ := newTestEncoder(t, 0)

	_, err := e.GetPacketTimeout(TimeoutNonBlock)
	assert.ErrorIs(t, err, status.ErrWouldBlock)
	_, err = e.GetPacketTimeout(10 * time.Millisecond)
	assert.ErrorIs(t, err, status.ErrTimeout)

	assert.True(t, interfaces.IsUnsupported(e.Control(interfaces.CmdSetFrameGroup, e.FrameGroup())))
	assert.True(t, interfaces.IsUnsupported(e.Control(interfaces.CmdCodecBase+1, nil)))

	var s Stats
	require.NoError(t, e.Control(interfaces.CmdGetStats, &s))
	assert.Equal(t, 2, s.TasksUnused)
}

func TestEncoderResetAndClose(t *testing.T) {
	gate := make(chan struct{})
	entered := make(chan int, 8)
	e, _ := newTestEncoder(t, 0, sim.WithGate(gate, entered))

	for i := 0; i < 3; i++ {
		f := testFrame(t, e, int64(i), 1)
		require.NoError(t, e.PutFrame(f))
		require.NoError(t, f.Release())
	}
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("job never reached the backend")
	}

	done := make(chan error, 1)
	go func() { done <- e.Reset() }()
	time.Sleep(20 * time.Millisecond)
	close(gate)
	require.NoError(t, <-done)

	_, err := e.GetPacketTimeout(TimeoutNonBlock)
	assert.ErrorIs(t, err, status.ErrWouldBlock, "packets from before the reset are dropped")
	assert.Zero(t, e.Stats().InputQueued)
	assert.Zero(t, e.FrameGroup().Stats().Used, "every input frame released")

	require.NoError(t, e.Close())
	assert.ErrorIs(t, e.PutFrame(testFrameAfterClose()), status.ErrClosed)
	_, err = e.GetPacket()
	assert.ErrorIs(t, err, status.ErrClosed)
}

func testFrameAfterClose() *frame.Frame {
	f := frame.New()
	f.Flags = frame.FlagEOS
	return f
}

// TestEncodeDecodeRoundTrip feeds encoder output straight into a decoder.
func TestEncodeDecodeRoundTrip(t *testing.T) {
	e, _ := newTestEncoder(t, 3)
	d, _, _ := newTestDecoder(t, nil)

	putFrames(t, e, 5)

	go func() {
		for {
			pkt, err := e.GetPacket()
			if !assert.NoError(t, err) {
				return
			}
			err = d.PutPacket(pkt)
			_ = pkt.Release()
			if !assert.NoError(t, err) || pkt.IsEOS() {
				return
			}
		}
	}()

	var n int
	for {
		f, err := d.GetFrame()
		require.NoError(t, err)
		if f.IsEOS() {
			break
		}
		assert.Equal(t, n, f.POC)
		data, err := f.Buffer().Map()
		require.NoError(t, err)
		assert.Equal(t, byte(n+1), data[0])
		assert.Equal(t, byte(n+1), data[len(data)-1], "the whole picture survives the round trip")
		require.NoError(t, f.Release())
		n++
	}
	assert.Equal(t, 5, n)
}
