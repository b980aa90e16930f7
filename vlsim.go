package vlsim

import (
	"context"

	"github.com/wippyai/vlsim/loader"
	"github.com/wippyai/vlsim/sim"
)

// Simulation is a constructed model; see package sim.
type Simulation = sim.Simulation

// Build compiles the design described by opts and loads the artifact.
func Build(ctx context.Context, opts loader.Options) (*Simulation, error) {
	return loader.Build(ctx, opts)
}

// Load opens a previously built artifact.
func Load(ctx context.Context, path string, opts ...sim.Option) (*Simulation, error) {
	return loader.Load(ctx, path, opts...)
}
