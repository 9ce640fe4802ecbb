package sim

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/hwcodec/buffer"
	"github.com/opd-ai/hwcodec/frame"
	"github.com/opd-ai/hwcodec/interfaces"
	"github.com/opd-ai/hwcodec/slot"
	"github.com/opd-ai/hwcodec/status"
	"github.com/opd-ai/hwcodec/task"
)

type rig struct {
	slots   *slot.Table
	frames  *buffer.Group
	packets *buffer.Group
	parser  *Parser
	hal     *HAL
}

func newRig(t *testing.T, opts ...HALOption) *rig {
	t.Helper()
	tbl, err := slot.NewTable(8)
	require.NoError(t, err)
	fg, err := buffer.NewGroup(t.Name()+"-frames", buffer.ModeInternal, buffer.KindHeap, buffer.Limits{})
	require.NoError(t, err)
	pg, err := buffer.NewGroup(t.Name()+"-packets", buffer.ModeInternal, buffer.KindHeap, buffer.Limits{})
	require.NoError(t, err)

	r := &rig{slots: tbl, frames: fg, packets: pg, parser: NewParser(), hal: NewHAL(opts...)}
	require.NoError(t, r.parser.Init(interfaces.ParserConfig{Coding: interfaces.CodingSim, Slots: tbl, FrameGroup: fg}))
	require.NoError(t, r.hal.Init(interfaces.HALConfig{Coding: interfaces.CodingSim, Slots: tbl, FrameGroup: fg, PacketGroup: pg}))
	return r
}

// decode runs one picture through the parser and backend the way the
// pipeline does, without the concurrency.
func (r *rig) decode(t *testing.T, data []byte) (task.Decode, error) {
	t.Helper()
	pkt, err := frame.NewPacket(data).Copy(r.packets)
	require.NoError(t, err)
	d := task.NewDecode()
	if err := r.parser.Prepare(pkt, &d); err != nil {
		return d, err
	}
	assert.Zero(t, pkt.Len(), "packet fully consumed")
	if err := r.parser.Parse(&d); err != nil {
		return d, err
	}
	require.NoError(t, r.hal.GenRegs(&d))
	require.NoError(t, r.hal.Start(&d))
	hwErr := r.hal.Wait(&d)
	require.NoError(t, r.slots.SetHWReady(d.Output))
	require.NoError(t, pkt.Release())
	return d, hwErr
}

func (r *rig) drainDisplay(t *testing.T) []int {
	t.Helper()
	var pocs []int
	for {
		_, info, buf, err := r.slots.DequeueDisplay()
		if errors.Is(err, status.ErrEmpty) {
			return pocs
		}
		require.NoError(t, err)
		pocs = append(pocs, info.POC)
		if buf != nil {
			require.NoError(t, buf.DecRef())
		}
	}
}

func TestParserDisplayOrder(t *testing.T) {
	r := newRig(t)
	pics, err := Stream("IBBP", 8, 32)
	require.NoError(t, err)

	for _, p := range pics {
		_, err := r.decode(t, p.Data)
		require.NoError(t, err)
	}
	require.NoError(t, r.parser.Flush())
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7}, r.drainDisplay(t))
	assert.Equal(t, 0, r.slots.UsedCount(), "every slot recycled after flush and display")
	assert.Equal(t, 8, r.hal.Completed())

	var parsed int
	require.NoError(t, r.parser.Control(CmdGetParsed, &parsed))
	assert.Equal(t, 8, parsed)
}

func TestParserReferences(t *testing.T) {
	r := newRig(t)
	i0, err := r.decode(t, EncodePacket(PictureI, 0, []byte{1}))
	require.NoError(t, err)
	assert.Empty(t, i0.Refs)

	p2, err := r.decode(t, EncodePacket(PictureP, 2, []byte{2}))
	require.NoError(t, err)
	assert.Equal(t, []int{i0.Output}, p2.Refs)

	b1, err := r.decode(t, EncodePacket(PictureB, 1, []byte{3}))
	require.NoError(t, err)
	assert.Equal(t, []int{i0.Output, p2.Output}, b1.Refs)

	st, err := r.slots.Status(b1.Output)
	require.NoError(t, err)
	assert.Zero(t, st&slot.StatusRef, "B pictures are not references")
}

func TestParserMissingReference(t *testing.T) {
	r := newRig(t)
	_, err := r.decode(t, EncodePacket(PictureP, 5, nil))
	assert.ErrorIs(t, err, ErrMissingReference)
	assert.Equal(t, 0, r.slots.UsedCount())

	_, err = r.decode(t, []byte{'Q', 0, 0, 0})
	assert.ErrorIs(t, err, ErrBadHeader)
}

func TestHALCopiesPayload(t *testing.T) {
	r := newRig(t)
	payload := []byte{10, 20, 30, 40}
	d, err := r.decode(t, EncodePacket(PictureI, 7, payload))
	require.NoError(t, err)

	b, err := r.slots.Buffer(d.Output)
	require.NoError(t, err)
	data, err := b.Map()
	require.NoError(t, err)
	assert.Equal(t, payload, data[:4])
	assert.Equal(t, byte(7), data[4], "remainder filled with the poc")
	assert.Equal(t, frame.Info{Width: DefaultWidth, Height: DefaultHeight}.Size(), len(data))
}

func TestHALInjectedFailure(t *testing.T) {
	r := newRig(t, WithFailPOC(0))
	_, err := r.decode(t, EncodePacket(PictureI, 0, []byte{1}))
	assert.ErrorIs(t, err, status.ErrHardwareFailure)
	assert.Equal(t, 1, r.hal.Failed())
	assert.Equal(t, 0, r.hal.Completed())
}

func TestControlForwarding(t *testing.T) {
	r := newRig(t)
	assert.True(t, interfaces.IsUnsupported(r.parser.Control(CmdSetDelay, 0)))
	assert.True(t, interfaces.IsUnsupported(r.hal.Control(CmdGetParsed, nil)))

	require.NoError(t, r.parser.Control(CmdSetGeometry, [2]int{32, 8}))
	assert.Equal(t, 32*8*3/2, r.slots.BufferSize())
	assert.ErrorIs(t, r.parser.Control(CmdSetGeometry, "big"), status.ErrInvalidArgument)
}

func TestParserReset(t *testing.T) {
	r := newRig(t)
	_, err := r.decode(t, EncodePacket(PictureI, 0, nil))
	require.NoError(t, err)
	require.NoError(t, r.parser.Reset())
	r.slots.Reset()

	_, err = r.decode(t, EncodePacket(PictureP, 1, nil))
	assert.ErrorIs(t, err, ErrMissingReference, "anchors forgotten")
}
