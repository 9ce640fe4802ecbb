// Package hwcodec is the caller surface of a hardware-accelerated video
// codec core.
//
// A Context is created once, initialized as a decoder or an encoder for a
// coding, then fed and drained through its ports until it is destroyed.
//
// Example:
//
//	ctx, err := hwcodec.Create()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer ctx.Destroy()
//
//	if err := ctx.Init(hwcodec.ContextDec, interfaces.CodingSim); err != nil {
//	    log.Fatal(err)
//	}
//
//	go func() {
//	    for _, data := range packets {
//	        _ = ctx.PutPacket(frame.NewPacket(data))
//	    }
//	    _ = ctx.PutPacket(frame.NewEOSPacket())
//	}()
//
//	for {
//	    f, err := ctx.GetFrame()
//	    if err != nil || f.IsEOS() {
//	        break
//	    }
//	    fmt.Printf("frame poc=%d pts=%d\n", f.POC, f.PTS)
//	    f.Release()
//	}
package hwcodec

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/hwcodec/config"
	"github.com/opd-ai/hwcodec/factory"
	"github.com/opd-ai/hwcodec/frame"
	"github.com/opd-ai/hwcodec/interfaces"
	"github.com/opd-ai/hwcodec/pipeline"
	"github.com/opd-ai/hwcodec/status"
)

// ContextType selects what an initialized Context does.
type ContextType int

const (
	// ContextDec decodes packets into frames.
	ContextDec ContextType = iota
	// ContextEnc encodes frames into packets.
	ContextEnc
)

// String returns the context type name.
func (t ContextType) String() string {
	switch t {
	case ContextDec:
		return "dec"
	case ContextEnc:
		return "enc"
	default:
		return fmt.Sprintf("context_type(%d)", int(t))
	}
}

// Port names one side of a Context for Enqueue and Dequeue.
type Port int

const (
	// PortInput takes packets (decoder) or frames (encoder).
	PortInput Port = iota
	// PortOutput yields frames (decoder) or packets (encoder).
	PortOutput
)

// String returns the port name.
func (p Port) String() string {
	switch p {
	case PortInput:
		return "input"
	case PortOutput:
		return "output"
	default:
		return fmt.Sprintf("port(%d)", int(p))
	}
}

var (
	// ErrNotInitialized is returned by port and control operations before Init.
	ErrNotInitialized = fmt.Errorf("%w: context not initialized", status.ErrInvalidArgument)
	// ErrAlreadyInitialized is returned by a second Init.
	ErrAlreadyInitialized = fmt.Errorf("%w: context already initialized", status.ErrInvalidArgument)
	// ErrWrongType is returned when a port operation does not match the
	// context type, e.g. PutFrame on a decoder.
	ErrWrongType = fmt.Errorf("%w: operation does not match context type", status.ErrInvalidArgument)
)

// Option customizes a Context at creation.
type Option func(*Context)

// WithFactory makes Init resolve codings in f instead of factory.Default().
func WithFactory(f *factory.CodecFactory) Option {
	return func(c *Context) {
		if f != nil {
			c.factory = f
		}
	}
}

// Context is one codec session. All methods are safe for concurrent use;
// a blocked port call returns status.ErrClosed once the context is destroyed.
type Context struct {
	id      string
	cfg     *config.Config
	factory *factory.CodecFactory
	log     *logrus.Entry

	mu        sync.RWMutex
	typ       ContextType
	coding    interfaces.Coding
	dec       *pipeline.Decoder
	enc       *pipeline.Encoder
	destroyed bool
}

// Create returns a Context using config.Default.
func Create() (*Context, error) {
	return New(config.Default())
}

// New returns a Context configured by cfg. The configuration is copied;
// later changes to cfg have no effect. The first Context created in a
// process also applies cfg.LogLevel, see SetupLogging.
func New(cfg *config.Config, opts ...Option) (*Context, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: nil config", status.ErrInvalidArgument)
	}
	cfg = cfg.Clone()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.LogLevel != "" {
		if _, err := SetupLogging(cfg.LogLevel); err != nil {
			return nil, err
		}
	}

	c := &Context{
		id:      uuid.NewString(),
		cfg:     cfg,
		factory: factory.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = logrus.WithField("context_id", c.id)

	c.log.WithFields(logrus.Fields{
		"function": "New",
		"slots":    cfg.Slots,
		"tasks":    cfg.Tasks,
	}).Info("Created codec context")
	return c, nil
}

// ID returns the context identifier used in logs.
func (c *Context) ID() string { return c.id }

// Type returns the context type chosen at Init.
func (c *Context) Type() ContextType {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.typ
}

// Coding returns the coding chosen at Init, interfaces.CodingUnknown before.
func (c *Context) Coding() interfaces.Coding {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.coding
}

// Init creates the codec plugin and hardware backend for coding and starts
// the pipeline. A Context is initialized once.
func (c *Context) Init(typ ContextType, coding interfaces.Coding) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return fmt.Errorf("%w: context %s", status.ErrClosed, c.id)
	}
	if c.dec != nil || c.enc != nil {
		return ErrAlreadyInitialized
	}

	logger := c.log.WithFields(logrus.Fields{
		"function": "Init",
		"type":     typ.String(),
		"coding":   coding.String(),
	})

	switch typ {
	case ContextDec:
		parser, hal, err := c.factory.CreateDecoder(coding)
		if err != nil {
			return err
		}
		dec, err := pipeline.NewDecoder(c.cfg, coding, parser, hal)
		if err != nil {
			logger.WithError(err).Warn("Decoder creation failed")
			return err
		}
		c.dec = dec
	case ContextEnc:
		enc, hal, err := c.factory.CreateEncoder(coding)
		if err != nil {
			return err
		}
		p, err := pipeline.NewEncoder(c.cfg, coding, enc, hal)
		if err != nil {
			logger.WithError(err).Warn("Encoder creation failed")
			return err
		}
		c.enc = p
	default:
		return fmt.Errorf("%w: context type %s", status.ErrInvalidArgument, typ)
	}

	c.typ = typ
	c.coding = coding
	logger.Info("Initialized codec context")
	return nil
}

// pipelines returns the running pipeline under the read lock so that port
// calls never hold the context lock while they wait.
func (c *Context) pipelines() (*pipeline.Decoder, *pipeline.Encoder, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.destroyed {
		return nil, nil, fmt.Errorf("%w: context %s", status.ErrClosed, c.id)
	}
	if c.dec == nil && c.enc == nil {
		return nil, nil, ErrNotInitialized
	}
	return c.dec, c.enc, nil
}

func (c *Context) decoder() (*pipeline.Decoder, error) {
	dec, _, err := c.pipelines()
	if err != nil {
		return nil, err
	}
	if dec == nil {
		return nil, ErrWrongType
	}
	return dec, nil
}

func (c *Context) encoder() (*pipeline.Encoder, error) {
	_, enc, err := c.pipelines()
	if err != nil {
		return nil, err
	}
	if enc == nil {
		return nil, ErrWrongType
	}
	return enc, nil
}

// PutPacket queues a packet on a decoder, waiting per the input timeout.
// The caller keeps ownership of pkt.
func (c *Context) PutPacket(pkt *frame.Packet) error {
	dec, err := c.decoder()
	if err != nil {
		return err
	}
	return dec.PutPacket(pkt)
}

// GetFrame returns the next decoded frame in display order, waiting per
// the output timeout. The caller must Release it.
func (c *Context) GetFrame() (*frame.Frame, error) {
	dec, err := c.decoder()
	if err != nil {
		return nil, err
	}
	return dec.GetFrame()
}

// PutFrame queues a frame on an encoder, waiting per the input timeout.
// The caller keeps ownership of f.
func (c *Context) PutFrame(f *frame.Frame) error {
	enc, err := c.encoder()
	if err != nil {
		return err
	}
	return enc.PutFrame(f)
}

// GetPacket returns the next encoded packet, waiting per the output
// timeout. The caller must Release it.
func (c *Context) GetPacket() (*frame.Packet, error) {
	enc, err := c.encoder()
	if err != nil {
		return nil, err
	}
	return enc.GetPacket()
}

// Enqueue hands item to the input port with an explicit timeout. A
// decoder takes a *frame.Packet, an encoder a *frame.Frame.
func (c *Context) Enqueue(port Port, item any, to pipeline.Timeout) error {
	if port != PortInput {
		return fmt.Errorf("%w: enqueue on %s port", status.ErrInvalidArgument, port)
	}
	dec, enc, err := c.pipelines()
	if err != nil {
		return err
	}
	switch v := item.(type) {
	case *frame.Packet:
		if dec == nil {
			return ErrWrongType
		}
		return dec.PutPacketTimeout(v, to)
	case *frame.Frame:
		if enc == nil {
			return ErrWrongType
		}
		return enc.PutFrameTimeout(v, to)
	default:
		return fmt.Errorf("%w: cannot enqueue %T", status.ErrInvalidArgument, item)
	}
}

// Dequeue takes the next item from the output port with an explicit
// timeout: a *frame.Frame from a decoder, a *frame.Packet from an encoder.
// Expired waits report status.ErrTimeout or status.ErrWouldBlock.
func (c *Context) Dequeue(port Port, to pipeline.Timeout) (any, error) {
	if port != PortOutput {
		return nil, fmt.Errorf("%w: dequeue on %s port", status.ErrInvalidArgument, port)
	}
	dec, enc, err := c.pipelines()
	if err != nil {
		return nil, err
	}
	if dec != nil {
		f, err := dec.GetFrameTimeout(to)
		if err != nil {
			return nil, err
		}
		return f, nil
	}
	pkt, err := enc.GetPacketTimeout(to)
	if err != nil {
		return nil, err
	}
	return pkt, nil
}

// Reset drops every queued and undelivered item and clears error state.
// A hardware job already running finishes first.
func (c *Context) Reset() error {
	dec, enc, err := c.pipelines()
	if err != nil {
		return err
	}
	c.log.WithField("function", "Reset").Info("Resetting codec context")
	if dec != nil {
		return dec.Reset()
	}
	return enc.Reset()
}

// Control runs cmd on the pipeline; see interfaces.Command. Commands the
// pipeline does not handle go to the codec plugin, then the backend.
func (c *Context) Control(cmd interfaces.Command, param any) error {
	dec, enc, err := c.pipelines()
	if err != nil {
		return err
	}
	c.log.WithFields(logrus.Fields{
		"function": "Control",
		"command":  cmd.String(),
	}).Debug("Control")
	if dec != nil {
		return dec.Control(cmd, param)
	}
	return enc.Control(cmd, param)
}

// Stats returns a snapshot of the pipeline counters.
func (c *Context) Stats() (pipeline.Stats, error) {
	dec, enc, err := c.pipelines()
	if err != nil {
		return pipeline.Stats{}, err
	}
	if dec != nil {
		return dec.Stats(), nil
	}
	return enc.Stats(), nil
}

// Destroy stops the pipeline and releases everything it holds. Blocked
// port calls return status.ErrClosed. Frames and packets already handed to
// the caller stay valid. Destroy is idempotent.
func (c *Context) Destroy() error {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return nil
	}
	c.destroyed = true
	dec, enc := c.dec, c.enc
	c.mu.Unlock()

	var err error
	if dec != nil {
		err = errors.Join(err, dec.Close())
	}
	if enc != nil {
		err = errors.Join(err, enc.Close())
	}

	c.log.WithFields(logrus.Fields{
		"function": "Destroy",
		"error":    err,
	}).Info("Destroyed codec context")
	return err
}
