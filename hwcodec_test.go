package hwcodec

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/hwcodec/buffer"
	"github.com/opd-ai/hwcodec/config"
	"github.com/opd-ai/hwcodec/factory"
	"github.com/opd-ai/hwcodec/frame"
	"github.com/opd-ai/hwcodec/interfaces"
	"github.com/opd-ai/hwcodec/pipeline"
	"github.com/opd-ai/hwcodec/sim"
	"github.com/opd-ai/hwcodec/status"
	"github.com/opd-ai/hwcodec/task"
)

func newContext(t *testing.T, typ ContextType) *Context {
	t.Helper()
	cfg := config.Default()
	cfg.InputTimeout = 2 * time.Second
	cfg.OutputTimeout = 2 * time.Second
	c, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Destroy() })
	require.NoError(t, c.Init(typ, interfaces.CodingSim))
	return c
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(nil)
	assert.ErrorIs(t, err, status.ErrInvalidArgument)

	cfg := config.Default()
	cfg.Tasks = 0
	_, err = New(cfg)
	assert.ErrorIs(t, err, status.ErrInvalidArgument)
}

func TestContextBeforeInit(t *testing.T) {
	c, err := Create()
	require.NoError(t, err)
	defer c.Destroy()

	assert.NotEmpty(t, c.ID())
	assert.Equal(t, interfaces.CodingUnknown, c.Coding())

	assert.ErrorIs(t, c.PutPacket(frame.NewEOSPacket()), ErrNotInitialized)
	_, err = c.GetFrame()
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.ErrorIs(t, c.Reset(), ErrNotInitialized)
	assert.ErrorIs(t, c.Control(interfaces.CmdGetStats, &pipeline.Stats{}), ErrNotInitialized)
	_, err = c.Stats()
	assert.ErrorIs(t, err, status.ErrInvalidArgument)
}

func TestContextInit(t *testing.T) {
	c, err := Create()
	require.NoError(t, err)
	defer c.Destroy()

	err = c.Init(ContextDec, interfaces.CodingHEVC)
	assert.ErrorIs(t, err, factory.ErrUnsupportedCoding)
	assert.ErrorIs(t, c.Init(ContextType(7), interfaces.CodingSim), status.ErrInvalidArgument)

	require.NoError(t, c.Init(ContextDec, interfaces.CodingSim))
	assert.Equal(t, ContextDec, c.Type())
	assert.Equal(t, interfaces.CodingSim, c.Coding())
	assert.ErrorIs(t, c.Init(ContextEnc, interfaces.CodingSim), ErrAlreadyInitialized)
}

func TestContextWithFactory(t *testing.T) {
	f := factory.NewCodecFactory()
	require.NoError(t, f.RegisterDecoder(interfaces.CodingAVC,
		func() interfaces.IParser { return sim.NewParser() },
		func() interfaces.IHAL[task.Decode] { return sim.NewHAL() }))

	c, err := New(config.Default(), WithFactory(f))
	require.NoError(t, err)
	defer c.Destroy()
	require.NoError(t, c.Init(ContextDec, interfaces.CodingAVC))
}

func TestDecodeSession(t *testing.T) {
	c := newContext(t, ContextDec)

	pics, err := sim.Stream("IBBP", 8, 16)
	require.NoError(t, err)
	go func() {
		for _, p := range pics {
			pkt := frame.NewPacket(p.Data)
			pkt.PTS = int64(p.POC)
			if !assert.NoError(t, c.PutPacket(pkt)) {
				return
			}
		}
		assert.NoError(t, c.PutPacket(frame.NewEOSPacket()))
	}()

	var got []int
	for {
		f, err := c.GetFrame()
		require.NoError(t, err)
		if f.IsEOS() {
			break
		}
		assert.False(t, f.HasError())
		assert.Equal(t, int64(f.POC), f.PTS)
		got = append(got, f.POC)
		require.NoError(t, f.Release())
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7}, got)

	s, err := c.Stats()
	require.NoError(t, err)
	assert.Equal(t, uint64(9), s.PacketsIn)
	assert.Equal(t, uint64(9), s.FramesOut)
}

func TestWrongTypeOperations(t *testing.T) {
	dec := newContext(t, ContextDec)
	assert.ErrorIs(t, dec.PutFrame(frame.New()), ErrWrongType)
	_, err := dec.GetPacket()
	assert.ErrorIs(t, err, ErrWrongType)

	enc := newContext(t, ContextEnc)
	assert.ErrorIs(t, enc.PutPacket(frame.NewEOSPacket()), ErrWrongType)
	_, err = enc.GetFrame()
	assert.ErrorIs(t, err, ErrWrongType)
	assert.ErrorIs(t, enc.Enqueue(PortInput, frame.NewEOSPacket(), pipeline.TimeoutNonBlock), ErrWrongType)
}

func TestEnqueueDequeueEncoder(t *testing.T) {
	c := newContext(t, ContextEnc)

	g, err := buffer.NewGroup("caller-frames", buffer.ModeInternal, buffer.KindHeap, buffer.Limits{})
	require.NoError(t, err)
	defer g.Close()

	info := frame.Info{Width: sim.DefaultWidth, Height: sim.DefaultHeight, PTS: 40}
	b, err := g.Acquire(info.Size())
	require.NoError(t, err)
	_, err = b.Write(0, []byte{0xAB})
	require.NoError(t, err)
	f := frame.NewWithInfo(info)
	require.NoError(t, f.SetBuffer(b))
	require.NoError(t, b.DecRef())

	assert.ErrorIs(t, c.Enqueue(PortOutput, f, pipeline.TimeoutBlock), status.ErrInvalidArgument)
	assert.ErrorIs(t, c.Enqueue(PortInput, 42, pipeline.TimeoutBlock), status.ErrInvalidArgument)
	require.NoError(t, c.Enqueue(PortInput, f, pipeline.TimeoutBlock))
	require.NoError(t, f.Release())

	_, err = c.Dequeue(PortInput, pipeline.TimeoutBlock)
	assert.ErrorIs(t, err, status.ErrInvalidArgument)

	item, err := c.Dequeue(PortOutput, 2*time.Second)
	require.NoError(t, err)
	pkt, ok := item.(*frame.Packet)
	require.True(t, ok, "encoder output is a packet, got %T", item)
	assert.Equal(t, int64(40), pkt.PTS)
	data, err := pkt.Data()
	require.NoError(t, err)
	assert.Equal(t, byte(0xAB), data[sim.HeaderSize])
	require.NoError(t, pkt.Release())

	_, err = c.Dequeue(PortOutput, pipeline.TimeoutNonBlock)
	assert.ErrorIs(t, err, status.ErrWouldBlock)
	assert.Equal(t, status.Empty, status.CodeOf(err))
}

func TestDequeueDecoderTimeout(t *testing.T) {
	c := newContext(t, ContextDec)

	_, err := c.Dequeue(PortOutput, 10*time.Millisecond)
	assert.ErrorIs(t, err, status.ErrTimeout)

	pics, err := sim.Stream("I", 1, 4)
	require.NoError(t, err)
	require.NoError(t, c.Enqueue(PortInput, frame.NewPacket(pics[0].Data), pipeline.TimeoutBlock))
	require.NoError(t, c.Enqueue(PortInput, frame.NewEOSPacket(), pipeline.TimeoutBlock))

	item, err := c.Dequeue(PortOutput, 2*time.Second)
	require.NoError(t, err)
	f, ok := item.(*frame.Frame)
	require.True(t, ok)
	assert.Equal(t, 0, f.POC)
	require.NoError(t, f.Release())
}

func TestContextControlAndReset(t *testing.T) {
	c := newContext(t, ContextDec)

	require.NoError(t, c.Control(interfaces.CmdSetOutputTimeout, pipeline.TimeoutNonBlock))
	_, err := c.GetFrame()
	assert.ErrorIs(t, err, status.ErrWouldBlock)

	var parsed int
	require.NoError(t, c.Control(sim.CmdGetParsed, &parsed))
	assert.Zero(t, parsed)
	assert.True(t, interfaces.IsUnsupported(c.Control(interfaces.CmdCodecBase+99, nil)))

	require.NoError(t, c.Reset())
	s, err := c.Stats()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), s.Resets)
}

func TestDestroy(t *testing.T) {
	c := newContext(t, ContextDec)
	require.NoError(t, c.Control(interfaces.CmdSetOutputTimeout, pipeline.TimeoutBlock))

	errc := make(chan error, 1)
	go func() {
		_, err := c.GetFrame()
		errc <- err
	}()
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, c.Destroy())
	select {
	case err := <-errc:
		assert.ErrorIs(t, err, status.ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("blocked GetFrame did not return after Destroy")
	}

	assert.NoError(t, c.Destroy(), "Destroy is idempotent")
	assert.ErrorIs(t, c.PutPacket(frame.NewEOSPacket()), status.ErrClosed)
	assert.ErrorIs(t, c.Init(ContextDec, interfaces.CodingSim), status.ErrClosed)
	_, err := c.Stats()
	assert.Equal(t, status.Closed, status.CodeOf(err))
}

func TestSetupLoggingInitOnce(t *testing.T) {
	_, err := SetupLogging("loud")
	assert.ErrorIs(t, err, status.ErrInvalidArgument)

	first, err := SetupLogging("warn")
	require.NoError(t, err)
	second, err := SetupLogging("trace")
	require.NoError(t, err)
	assert.Equal(t, first, second, "only the first call applies")
	assert.Equal(t, first, logrus.GetLevel())
}

func TestStringers(t *testing.T) {
	assert.Equal(t, "dec", ContextDec.String())
	assert.Equal(t, "enc", ContextEnc.String())
	assert.Equal(t, "input", PortInput.String())
	assert.Equal(t, "output", PortOutput.String())
	assert.Equal(t, "port(9)", Port(9).String())
}
