package pipeline

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/hwcodec/buffer"
	"github.com/opd-ai/hwcodec/config"
	"github.com/opd-ai/hwcodec/frame"
	"github.com/opd-ai/hwcodec/interfaces"
	"github.com/opd-ai/hwcodec/sim"
	"github.com/opd-ai/hwcodec/slot"
	"github.com/opd-ai/hwcodec/status"
)

const testPayload = 16

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Slots = 8
	cfg.FrameGroup.Count = 12
	cfg.OutputTimeout = 2 * time.Second
	cfg.InputTimeout = 2 * time.Second
	return cfg
}

func newTestDecoder(t *testing.T, cfg *config.Config, opts ...sim.HALOption) (*Decoder, *sim.Parser, *sim.HAL) {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	parser, hal := sim.NewParser(), sim.NewHAL(opts...)
	d, err := NewDecoder(cfg, interfaces.CodingSim, parser, hal)
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	return d, parser, hal
}

func stream(t *testing.T, gop string, n int) []sim.StreamPicture {
	t.Helper()
	pics, err := sim.Stream(gop, n, testPayload)
	require.NoError(t, err)
	return pics
}

// feed queues the pictures and an end-of-stream packet. It may run on its
// own goroutine, so it only reports failures.
func feed(t *testing.T, d *Decoder, pics []sim.StreamPicture) {
	for _, p := range pics {
		pkt := frame.NewPacket(p.Data)
		pkt.PTS = int64(p.POC)
		if !assert.NoError(t, d.PutPacket(pkt)) {
			return
		}
	}
	assert.NoError(t, d.PutPacket(frame.NewEOSPacket()))
}

// drain reads frames until end of stream, releasing each.
func drain(t *testing.T, d *Decoder) []frame.Info {
	t.Helper()
	var out []frame.Info
	for {
		f, err := d.GetFrame()
		require.NoError(t, err)
		if f.IsEOS() {
			assert.Nil(t, f.Buffer(), "end of stream frame carries no buffer")
			return out
		}
		out = append(out, f.Info)
		require.NoError(t, f.Release())
	}
}

func pocs(infos []frame.Info) []int {
	out := make([]int, len(infos))
	for i, info := range infos {
		out[i] = info.POC
	}
	return out
}

func TestNewDecoderValidation(t *testing.T) {
	_, err := NewDecoder(nil, interfaces.CodingSim, nil, sim.NewHAL())
	assert.ErrorIs(t, err, status.ErrInvalidArgument)

	cfg := testConfig()
	cfg.Tasks = 0
	_, err = NewDecoder(cfg, interfaces.CodingSim, sim.NewParser(), sim.NewHAL())
	assert.Error(t, err)

	cfg = testConfig()
	cfg.FrameGroup.Kind = "tape"
	_, err = NewDecoder(cfg, interfaces.CodingSim, sim.NewParser(), sim.NewHAL())
	assert.ErrorIs(t, err, status.ErrInvalidArgument)
}

func TestDecoderDisplayOrder(t *testing.T) {
	d, parser, hal := newTestDecoder(t, nil)
	pics := stream(t, "IBBP", 8)

	go feed(t, d, pics)
	infos := drain(t, d)

	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7}, pocs(infos))
	for _, info := range infos {
		assert.Equal(t, int64(info.POC), info.PTS)
		assert.Zero(t, info.ErrInfo)
	}
	assert.Equal(t, 8, hal.Completed())
	assert.Zero(t, parser.HardwareErrors())

	_, err := d.GetFrameTimeout(TimeoutNonBlock)
	assert.ErrorIs(t, err, status.ErrWouldBlock, "end of stream is delivered once")

	s := d.Stats()
	assert.Equal(t, uint64(9), s.PacketsIn)
	assert.Equal(t, uint64(9), s.FramesOut)
	assert.Equal(t, uint64(8), s.DecodeCount)
	assert.Zero(t, s.TasksUsed)
	assert.Zero(t, d.Slots().UsedCount(), "every slot recycled after end of stream")
}

func TestDecoderFrameContents(t *testing.T) {
	d, _, _ := newTestDecoder(t, nil)
	pics := stream(t, "IP", 3)
	go feed(t, d, pics)

	for i := 0; i < 3; i++ {
		f, err := d.GetFrame()
		require.NoError(t, err)
		require.NotNil(t, f.Buffer())
		data, err := f.Buffer().Map()
		require.NoError(t, err)
		assert.Equal(t, byte(f.POC*31), data[0], "payload copied")
		assert.Equal(t, byte(f.POC), data[len(data)-1], "remainder filled")
		assert.Equal(t, frame.Info{Width: sim.DefaultWidth, Height: sim.DefaultHeight}.Size(), f.Buffer().Size())
		require.NoError(t, f.Release())
	}
	f, err := d.GetFrame()
	require.NoError(t, err)
	assert.True(t, f.IsEOS())
}

func TestDecoderFastMode(t *testing.T) {
	cfg := testConfig()
	cfg.FastMode = true
	cfg.Tasks = 4
	d, _, hal := newTestDecoder(t, cfg, sim.WithDelay(time.Millisecond))
	go feed(t, d, stream(t, "IBBPBBP", 14))
	infos := drain(t, d)
	assert.Len(t, infos, 14)
	assert.Equal(t, 14, hal.Completed())
	for i, info := range infos {
		assert.Equal(t, i, info.POC)
	}
}

func TestDecoderEOSWithData(t *testing.T) {
	d, _, _ := newTestDecoder(t, nil)
	pics := stream(t, "IP", 2)

	require.NoError(t, d.PutPacket(frame.NewPacket(pics[0].Data)))
	last := frame.NewPacket(pics[1].Data)
	last.Flags |= frame.PacketEOS
	require.NoError(t, d.PutPacket(last))

	assert.Equal(t, []int{0, 1}, pocs(drain(t, d)))
}

func TestDecoderRejectsEmptyPacket(t *testing.T) {
	d, _, _ := newTestDecoder(t, nil)
	assert.ErrorIs(t, d.PutPacket(frame.NewPacket(nil)), status.ErrInvalidArgument)
	assert.ErrorIs(t, d.PutPacket(nil), status.ErrInvalidArgument)
}

func TestDecoderHardwareFailure(t *testing.T) {
	d, parser, hal := newTestDecoder(t, nil, sim.WithFailPOC(3))
	go feed(t, d, stream(t, "IBBP", 4))

	infos := drain(t, d)
	require.Equal(t, []int{0, 1, 2, 3}, pocs(infos))
	assert.Zero(t, infos[0].ErrInfo)
	assert.NotZero(t, infos[1].ErrInfo&frame.ErrInfoRef, "B picture predicted from the failed anchor")
	assert.NotZero(t, infos[2].ErrInfo&frame.ErrInfoRef)
	assert.NotZero(t, infos[3].ErrInfo&frame.ErrInfoHardware)

	assert.Equal(t, 1, hal.Failed())
	assert.Equal(t, 1, parser.HardwareErrors())
	assert.Equal(t, uint64(1), d.Stats().HardwareErrors)
}

func TestDecoderDisableError(t *testing.T) {
	cfg := testConfig()
	cfg.DisableError = true
	d, _, _ := newTestDecoder(t, cfg, sim.WithFailPOC(3))
	go feed(t, d, stream(t, "IBBP", 4))

	assert.Equal(t, []int{0}, pocs(drain(t, d)))
	assert.Equal(t, uint64(3), d.Stats().Discarded)
	assert.Zero(t, d.Slots().UsedCount())
}

func TestDecoderParseErrors(t *testing.T) {
	d, _, hal := newTestDecoder(t, nil)

	require.NoError(t, d.PutPacket(frame.NewPacket([]byte{0xff, 0, 0, 1})))
	require.NoError(t, d.PutPacket(frame.NewPacket(sim.EncodePacket(sim.PictureP, 5, make([]byte, testPayload)))))
	feed(t, d, stream(t, "I", 1))

	assert.Equal(t, []int{0}, pocs(drain(t, d)))
	assert.Equal(t, uint64(2), d.Stats().ParseErrors)
	assert.Equal(t, 1, hal.Jobs())
}

func TestDecoderTimeouts(t *testing.T) {
	cfg := testConfig()
	cfg.InputQueue = 2
	gate := make(chan struct{})
	entered := make(chan int, 8)
	d, _, _ := newTestDecoder(t, cfg, sim.WithGate(gate, entered))
	pics := stream(t, "IPPP", 4)

	_, err := d.GetFrameTimeout(TimeoutNonBlock)
	assert.ErrorIs(t, err, status.ErrWouldBlock)
	_, err = d.GetFrameTimeout(20 * time.Millisecond)
	assert.ErrorIs(t, err, status.ErrTimeout)

	require.NoError(t, d.PutPacket(frame.NewPacket(pics[0].Data)))
	select {
	case poc := <-entered:
		assert.Equal(t, 0, poc)
	case <-time.After(2 * time.Second):
		t.Fatal("first job never reached the backend")
	}

	// The backend is held and only one task runs at a time, so the input
	// queue fills up.
	require.NoError(t, d.PutPacket(frame.NewPacket(pics[1].Data)))
	require.NoError(t, d.PutPacket(frame.NewPacket(pics[2].Data)))
	err = d.PutPacketTimeout(frame.NewPacket(pics[3].Data), TimeoutNonBlock)
	assert.ErrorIs(t, err, status.ErrWouldBlock)
	err = d.PutPacketTimeout(frame.NewPacket(pics[3].Data), 20*time.Millisecond)
	assert.ErrorIs(t, err, status.ErrTimeout)
	assert.Equal(t, 2, d.Stats().InputQueued)

	close(gate)
	require.NoError(t, d.PutPacket(frame.NewPacket(pics[3].Data)))
	require.NoError(t, d.PutPacket(frame.NewEOSPacket()))
	assert.Equal(t, []int{0, 1, 2, 3}, pocs(drain(t, d)))
}

func TestDecoderWaitsForFrameBuffers(t *testing.T) {
	cfg := testConfig()
	cfg.FrameGroup.Count = 3
	d, _, _ := newTestDecoder(t, cfg)
	go feed(t, d, stream(t, "IPPPPP", 6))

	// The parse stage stalls on the full frame group until frames are
	// released here.
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5}, pocs(drain(t, d)))
	assert.Zero(t, d.Stats().ParseErrors)
}

func TestDecoderControl(t *testing.T) {
	d, _, _ := newTestDecoder(t, nil)

	go feed(t, d, stream(t, "IP", 2))
	drain(t, d)

	var parsed int
	require.NoError(t, d.Control(sim.CmdGetParsed, &parsed), "handled by the plugin")
	assert.Equal(t, 2, parsed)

	require.NoError(t, d.Control(sim.CmdSetDelay, time.Millisecond), "forwarded to the backend")

	err := d.Control(interfaces.CmdCodecBase+99, nil)
	assert.True(t, interfaces.IsUnsupported(err))

	var s Stats
	require.NoError(t, d.Control(interfaces.CmdGetStats, &s))
	assert.Equal(t, uint64(3), s.FramesOut)

	require.NoError(t, d.Control(interfaces.CmdSetOutputTimeout, TimeoutNonBlock))
	_, err = d.GetFrame()
	assert.ErrorIs(t, err, status.ErrWouldBlock)

	assert.ErrorIs(t, d.Control(interfaces.CmdSetInputTimeout, "soon"), status.ErrInvalidArgument)
	assert.ErrorIs(t, d.Control(interfaces.CmdSetInputTimeout, Timeout(-5)), status.ErrInvalidArgument)
	assert.ErrorIs(t, d.Control(interfaces.CmdSetDisableError, 1), status.ErrInvalidArgument)
	assert.ErrorIs(t, d.Control(interfaces.CmdGetStats, nil), status.ErrInvalidArgument)
}

func TestDecoderSetFrameGroup(t *testing.T) {
	d, _, _ := newTestDecoder(t, nil)

	ext, err := buffer.NewGroup(t.Name(), buffer.ModeInternal, buffer.KindHeap, buffer.Limits{})
	require.NoError(t, err)
	defer ext.Close()
	external, err := buffer.NewGroup(t.Name()+"-ext", buffer.ModeExternal, buffer.KindHeap, buffer.Limits{})
	require.NoError(t, err)

	assert.ErrorIs(t, d.Control(interfaces.CmdSetFrameGroup, external), status.ErrInvalidArgument)
	assert.ErrorIs(t, d.Control(interfaces.CmdSetFrameGroup, nil), status.ErrInvalidArgument)
	require.NoError(t, d.Control(interfaces.CmdSetFrameGroup, ext))

	go feed(t, d, stream(t, "IP", 2))
	var infos []frame.Info
	for {
		f, err := d.GetFrame()
		require.NoError(t, err)
		if f.IsEOS() {
			break
		}
		assert.Same(t, ext, f.Buffer().Group(), "frames drawn from the new group")
		infos = append(infos, f.Info)
		require.NoError(t, f.Release())
	}
	assert.Len(t, infos, 2)
}

func TestDecoderResetWaitsForHardware(t *testing.T) {
	gate := make(chan struct{})
	entered := make(chan int, 8)
	d, _, hal := newTestDecoder(t, nil, sim.WithGate(gate, entered))
	pics := stream(t, "IPPP", 4)

	for _, p := range pics[:3] {
		require.NoError(t, d.PutPacket(frame.NewPacket(p.Data)))
	}
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("job never reached the backend")
	}

	done := make(chan error, 1)
	go func() { done <- d.Reset() }()

	select {
	case <-done:
		t.Fatal("Reset returned while a hardware job was running")
	case <-time.After(50 * time.Millisecond):
	}

	close(gate)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Reset did not return after the job finished")
	}

	assert.Equal(t, 1, hal.Completed(), "the running job finished, queued ones were dropped")
	unused, used := d.tasks.Counts()
	assert.Zero(t, used)
	assert.Equal(t, d.tasks.Capacity(), unused)
	assert.Zero(t, d.Slots().UsedCount())
	for i := 0; i < d.Slots().Count(); i++ {
		st, err := d.Slots().Status(i)
		require.NoError(t, err)
		assert.Zero(t, st&(slot.StatusRef|slot.StatusOutput), "slot %d", i)
	}
	s := d.Stats()
	assert.Equal(t, uint64(1), s.Resets)
	assert.Zero(t, s.InputQueued)

	_, err := d.GetFrameTimeout(TimeoutNonBlock)
	assert.ErrorIs(t, err, status.ErrWouldBlock, "nothing from before the reset")

	feed(t, d, stream(t, "IP", 2))
	assert.Equal(t, []int{0, 1}, pocs(drain(t, d)))
}

func TestDecoderClose(t *testing.T) {
	d, _, _ := newTestDecoder(t, nil)
	require.NoError(t, d.Control(interfaces.CmdSetOutputTimeout, TimeoutBlock))

	blocked := make(chan error, 1)
	go func() {
		_, err := d.GetFrame()
		blocked <- err
	}()
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, d.Close())
	select {
	case err := <-blocked:
		assert.ErrorIs(t, err, status.ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("GetFrame not woken by Close")
	}

	assert.NoError(t, d.Close(), "Close is idempotent")
	assert.ErrorIs(t, d.PutPacket(frame.NewEOSPacket()), status.ErrClosed)
	_, err := d.GetFrame()
	assert.ErrorIs(t, err, status.ErrClosed)
	assert.ErrorIs(t, d.Reset(), status.ErrClosed)
	assert.ErrorIs(t, d.Control(interfaces.CmdGetStats, &Stats{}), status.ErrClosed)
}

func TestDecoderFrameOutlivesClose(t *testing.T) {
	d, _, _ := newTestDecoder(t, nil)
	go feed(t, d, stream(t, "I", 1))

	f, err := d.GetFrame()
	require.NoError(t, err)
	require.NoError(t, d.Close())

	data, err := f.Buffer().Map()
	require.NoError(t, err)
	assert.Equal(t, byte(0), data[len(data)-1])
	assert.NoError(t, f.Release())
}

// failingParser rejects Init.
type failingParser struct{ *sim.Parser }

func (failingParser) Init(interfaces.ParserConfig) error { return errors.New("no device") }

func TestNewDecoderInitFailure(t *testing.T) {
	_, err := NewDecoder(testConfig(), interfaces.CodingSim, failingParser{sim.NewParser()}, sim.NewHAL())
	assert.ErrorContains(t, err, "parser init")
}

// TestDecoderDequeuedFrameSurvivesSlotRecycle dequeues a displayed anchor
// while it is still a reference, lets the parser drop and recycle its slot,
// then builds the frame: the frame must still carry the picture it was
// dequeued with.
func TestDecoderDequeuedFrameSurvivesSlotRecycle(t *testing.T) {
	d, _, _ := newTestDecoder(t, nil)
	pics := stream(t, "I", 3)

	for _, p := range pics[:2] {
		require.NoError(t, d.PutPacket(frame.NewPacket(p.Data)))
	}

	var (
		idx  int
		info frame.Info
		buf  *buffer.Buffer
	)
	require.Eventually(t, func() bool {
		var err error
		idx, info, buf, err = d.slots.DequeueDisplay()
		return err == nil
	}, 2*time.Second, time.Millisecond, "first picture never became displayable")
	require.Equal(t, 0, info.POC)
	st, err := d.slots.Status(idx)
	require.NoError(t, err)
	require.NotZero(t, st&slot.StatusRef, "the anchor is still a reference")

	require.NoError(t, d.PutPacket(frame.NewPacket(pics[2].Data)))
	require.Eventually(t, func() bool {
		st, err := d.slots.Status(idx)
		return err == nil && st == slot.StatusUnused
	}, 2*time.Second, time.Millisecond, "slot never recycled after its reference was dropped")

	f, err := d.deliverFrame(idx, info, buf)
	require.NoError(t, err)
	require.NotNil(t, f)
	defer f.Release()

	assert.Equal(t, sim.DefaultWidth, f.Width)
	assert.Equal(t, sim.DefaultHeight, f.Height)
	assert.Equal(t, 0, f.POC)
	require.NotNil(t, f.Buffer())
	data, err := f.Buffer().Map()
	require.NoError(t, err)
	assert.Equal(t, byte(1), data[1], "payload of picture 0")
	assert.Equal(t, byte(0), data[len(data)-1], "remainder of picture 0")
}

// TestDecoderConcurrentConsumer decodes a long predicted stream with a
// consumer racing the parse stage and checks every frame it receives.
func TestDecoderConcurrentConsumer(t *testing.T) {
	cfg := testConfig()
	cfg.FastMode = true
	cfg.Tasks = 4
	d, _, _ := newTestDecoder(t, cfg)

	const n = 300
	go feed(t, d, stream(t, "IPPPPPPP", n))

	for i := 0; i < n; i++ {
		f, err := d.GetFrame()
		require.NoError(t, err)
		require.False(t, f.IsEOS(), "end of stream after %d frames", i)
		require.Equal(t, i, f.POC)
		assert.Equal(t, sim.DefaultWidth, f.Width, "frame %d", i)
		assert.Equal(t, sim.DefaultHeight, f.Height, "frame %d", i)
		require.NotNil(t, f.Buffer(), "frame %d", i)
		data, err := f.Buffer().Map()
		require.NoError(t, err)
		assert.Equal(t, byte(i*31), data[0], "frame %d payload", i)
		assert.Equal(t, byte(i), data[len(data)-1], "frame %d remainder", i)
		require.NoError(t, f.Release())
	}
	f, err := d.GetFrame()
	require.NoError(t, err)
	assert.True(t, f.IsEOS())
}
