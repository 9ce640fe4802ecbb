// Package factory creates codec plugin and hardware backend pairs by coding.
//
// The factory decouples the codec context from concrete implementations:
// a context asks for a coding and receives fresh IParser/IHAL instances,
// whether they drive real silicon or the sim package.
//
// # Registration
//
// NewCodecFactory registers the simulated codec under interfaces.CodingSim.
// Real codec packages register their constructors, usually from init:
//
//	func init() {
//	    _ = factory.Default().RegisterDecoder(interfaces.CodingAVC,
//	        func() interfaces.IParser { return newAVCParser() },
//	        func() interfaces.IHAL[task.Decode] { return newVDPUHAL() },
//	    )
//	}
//
// # Usage
//
//	parser, hal, err := factory.Default().CreateDecoder(interfaces.CodingSim)
//	if err != nil {
//	    return err
//	}
//
// # Testing Support
//
// CreateSimulationForTesting returns concrete simulated types so tests can
// inject faults and inspect counters:
//
//	parser, hal := factory.NewCodecFactory().CreateSimulationForTesting(
//	    sim.WithFailPOC(2),
//	)
package factory
