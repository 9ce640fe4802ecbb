package factory

import (
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/hwcodec/interfaces"
	"github.com/opd-ai/hwcodec/sim"
	"github.com/opd-ai/hwcodec/status"
	"github.com/opd-ai/hwcodec/task"
)

// ErrUnsupportedCoding indicates no implementation is registered for a coding.
var ErrUnsupportedCoding = fmt.Errorf("%w: unsupported coding", status.ErrInvalidArgument)

// ParserConstructor creates a fresh codec plugin.
type ParserConstructor func() interfaces.IParser

// HALConstructor creates a fresh decode backend.
type HALConstructor func() interfaces.IHAL[task.Decode]

// EncoderConstructor creates a fresh encoder plugin.
type EncoderConstructor func() interfaces.IEncoder

// EncHALConstructor creates a fresh encode backend.
type EncHALConstructor func() interfaces.IHAL[task.Encode]

type decoderEntry struct {
	parser ParserConstructor
	hal    HALConstructor
}

type encoderEntry struct {
	encoder EncoderConstructor
	hal     EncHALConstructor
}

// CodecFactory maps codings to plugin/backend constructor pairs.
// It is safe for concurrent use; all methods are protected by an internal mutex.
type CodecFactory struct {
	mu       sync.RWMutex
	decoders map[interfaces.Coding]decoderEntry
	encoders map[interfaces.Coding]encoderEntry
}

// NewCodecFactory creates a factory with the simulated codec registered
// under interfaces.CodingSim.
func NewCodecFactory() *CodecFactory {
	f := &CodecFactory{
		decoders: make(map[interfaces.Coding]decoderEntry),
		encoders: make(map[interfaces.Coding]encoderEntry),
	}
	f.decoders[interfaces.CodingSim] = decoderEntry{
		parser: func() interfaces.IParser { return sim.NewParser() },
		hal:    func() interfaces.IHAL[task.Decode] { return sim.NewHAL() },
	}
	f.encoders[interfaces.CodingSim] = encoderEntry{
		encoder: func() interfaces.IEncoder { return sim.NewEncoder(sim.DefaultGOPLength) },
		hal:     func() interfaces.IHAL[task.Encode] { return sim.NewEncHAL() },
	}

	logrus.WithFields(logrus.Fields{
		"function": "NewCodecFactory",
		"decoders": len(f.decoders),
		"encoders": len(f.encoders),
	}).Debug("Created codec factory")
	return f
}

var (
	defaultOnce    sync.Once
	defaultFactory *CodecFactory
)

// Default returns the process-wide factory, creating it on first use.
// Codec packages register into it from their init functions.
func Default() *CodecFactory {
	defaultOnce.Do(func() {
		defaultFactory = NewCodecFactory()
	})
	return defaultFactory
}

// RegisterDecoder registers (or replaces) the decoder for coding.
func (f *CodecFactory) RegisterDecoder(coding interfaces.Coding, parser ParserConstructor, hal HALConstructor) error {
	if parser == nil || hal == nil {
		return fmt.Errorf("%w: nil constructor for %s decoder", status.ErrInvalidArgument, coding)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	_, replaced := f.decoders[coding]
	f.decoders[coding] = decoderEntry{parser: parser, hal: hal}

	logrus.WithFields(logrus.Fields{
		"function": "RegisterDecoder",
		"coding":   coding.String(),
		"replaced": replaced,
	}).Info("Registered decoder")
	return nil
}

// RegisterEncoder registers (or replaces) the encoder for coding.
func (f *CodecFactory) RegisterEncoder(coding interfaces.Coding, encoder EncoderConstructor, hal EncHALConstructor) error {
	if encoder == nil || hal == nil {
		return fmt.Errorf("%w: nil constructor for %s encoder", status.ErrInvalidArgument, coding)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	_, replaced := f.encoders[coding]
	f.encoders[coding] = encoderEntry{encoder: encoder, hal: hal}

	logrus.WithFields(logrus.Fields{
		"function": "RegisterEncoder",
		"coding":   coding.String(),
		"replaced": replaced,
	}).Info("Registered encoder")
	return nil
}

// CreateDecoder returns a new plugin and backend pair for coding.
func (f *CodecFactory) CreateDecoder(coding interfaces.Coding) (interfaces.IParser, interfaces.IHAL[task.Decode], error) {
	f.mu.RLock()
	e, ok := f.decoders[coding]
	f.mu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("%w: no decoder for %s", ErrUnsupportedCoding, coding)
	}

	logrus.WithFields(logrus.Fields{
		"function": "CreateDecoder",
		"coding":   coding.String(),
	}).Debug("Creating decoder implementation")
	return e.parser(), e.hal(), nil
}

// CreateEncoder returns a new plugin and backend pair for coding.
func (f *CodecFactory) CreateEncoder(coding interfaces.Coding) (interfaces.IEncoder, interfaces.IHAL[task.Encode], error) {
	f.mu.RLock()
	e, ok := f.encoders[coding]
	f.mu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("%w: no encoder for %s", ErrUnsupportedCoding, coding)
	}

	logrus.WithFields(logrus.Fields{
		"function": "CreateEncoder",
		"coding":   coding.String(),
	}).Debug("Creating encoder implementation")
	return e.encoder(), e.hal(), nil
}

// Decoders lists the codings with a registered decoder, sorted.
func (f *CodecFactory) Decoders() []interfaces.Coding {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]interfaces.Coding, 0, len(f.decoders))
	for c := range f.decoders {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Encoders lists the codings with a registered encoder, sorted.
func (f *CodecFactory) Encoders() []interfaces.Coding {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]interfaces.Coding, 0, len(f.encoders))
	for c := range f.encoders {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// CreateSimulationForTesting returns a simulated decoder pair with the given
// backend options, bypassing the registry.
func (f *CodecFactory) CreateSimulationForTesting(opts ...sim.HALOption) (*sim.Parser, *sim.HAL) {
	logrus.WithFields(logrus.Fields{
		"function": "CreateSimulationForTesting",
		"options":  len(opts),
	}).Debug("Creating simulation implementation for testing")
	return sim.NewParser(), sim.NewHAL(opts...)
}
