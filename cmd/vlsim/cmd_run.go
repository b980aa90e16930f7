package main

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wippyai/vlsim/abi"
	"github.com/wippyai/vlsim/sim"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <artifact|top.v>",
		Short: "Apply scripted stimulus and print the port values",
		Long: `run loads an artifact (building it first when given a design file),
writes every --set assignment in order, ticks the clock --ticks times and
prints the inputs and outputs.

Values accept Go integer syntax: 42, 0x2a, 0b101010, 0o52, 1_000.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sets, _ := cmd.Flags().GetStringArray("set")
			ticks, _ := cmd.Flags().GetInt("ticks")
			vcd, _ := cmd.Flags().GetString("vcd")
			clock, _ := cmd.Flags().GetString("clock")

			var extra []sim.Option
			if cmd.Flags().Changed("clock") {
				extra = append(extra, sim.WithClockName(clock))
			}
			s, err := openSimulation(cmd, args[0], extra...)
			if err != nil {
				return err
			}
			defer s.Close()
			return runScript(cmd, s, sets, ticks, vcd)
		},
	}
	addBuildFlags(cmd)
	cmd.Flags().StringArray("set", nil, "Assignment name=value applied before ticking (repeatable)")
	cmd.Flags().Int("ticks", 0, "Clock cycles to run after the assignments")
	cmd.Flags().String("vcd", "", "Record a waveform to this file")
	cmd.Flags().String("clock", "", "Input to use as the clock instead of detecting one")
	return cmd
}

func runScript(cmd *cobra.Command, s *sim.Simulation, sets []string, ticks int, vcd string) error {
	out := cmd.OutOrStdout()
	s.OnFinish(func(ev abi.FinishEvent) {
		fmt.Fprintf(out, "$finish at %s:%d (%s)\n", ev.File, ev.Line, ev.Hier)
	})

	if vcd != "" {
		if err := s.StartTrace(vcd); err != nil {
			return err
		}
	}
	for _, a := range sets {
		name, v, err := parseAssignment(a)
		if err != nil {
			return err
		}
		if err := s.Write(name, v); err != nil {
			return err
		}
	}
	if ticks > 0 {
		if err := s.Tick(ticks); err != nil {
			return err
		}
	}
	if vcd != "" {
		if err := s.StopTrace(); err != nil {
			return err
		}
	}

	fmt.Fprint(out, s.IO().String())
	if done, err := s.Finished(); err == nil && done {
		fmt.Fprintln(out, "finished")
	}
	return nil
}

// parseAssignment splits "name=value" and parses value with Go integer
// literal syntax.
func parseAssignment(s string) (string, *big.Int, error) {
	name, value, ok := strings.Cut(s, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return "", nil, fmt.Errorf("assignment %q is not name=value", s)
	}
	v, ok := new(big.Int).SetString(strings.TrimSpace(value), 0)
	if !ok {
		return "", nil, fmt.Errorf("assignment %q: %q is not an integer", s, value)
	}
	return name, v, nil
}
