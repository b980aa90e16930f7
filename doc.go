// Package vlsim builds Verilog designs with Verilator and drives the
// compiled models from Go.
//
// A build runs verilator over the design, scans the generated headers for
// ports and internal signals, emits a C++ glue layer with a flat accessor
// table and an embedded metadata block, and links everything into a
// native shared object or a WASI module. Loading reads the metadata back
// from the artifact, so a built model can be reopened without the sources.
//
// # Architecture Overview
//
//	vlsim/               Root package with Build and Load shortcuts
//	├── names/           Decoding of Verilator's escaped hierarchical names
//	├── abi/             Artifact ABI: descriptors, width tiers, Library
//	├── glue/            C++ glue generator (glue/lint checks its syntax)
//	├── verilator/       Tool discovery, arguments and header scanning
//	├── native/          dlopen backend via purego
//	├── wasmmodel/       WASI backend via wazero
//	├── loader/          Build and load orchestration
//	├── buildcache/      SQLite index of built artifacts
//	├── config/          vlsim.yaml project files
//	├── signal/          Signal handles and hierarchical collections
//	├── sim/             Simulation facade: eval, clock, tracing, $finish
//	├── gtkwave/         GTKWave control channel
//	└── errors/          Structured error types
//
// # Quick Start
//
//	s, err := vlsim.Build(ctx, loader.Options{Top: "counter.v"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer s.Close()
//
//	s.WriteUint64("en", 1)
//	s.Tick(10)
//	q, _ := s.ReadUint64("q")
//
// Internal signals are reachable through s.Internals(), keyed by their
// decoded hierarchy below the top module:
//
//	acc, _ := s.Internals().Lookup("u_sub.acc")
//
// # Waveforms
//
// StartTrace records a VCD or FST file. While a clock is bound every clock
// write appends two samples; without one every eval does. StartViewer
// opens the file in GTKWave and SendToViewer adds signals to its display.
//
// # Thread Safety
//
// A Simulation is single-threaded: calls run to completion and nothing is
// evaluated in the background. Native artifacts loaded twice from the same
// path share Verilator's process-global state, including the $finish flag.
// Build separate artifacts when instances must stay independent.
package vlsim
