package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wippyai/vlsim/glue"
	"github.com/wippyai/vlsim/verilator"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print vlsim and Verilator versions",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "vlsim %s (glue ABI %s)\n", version, glue.Version)

			p, err := loadProject(cmd, "")
			if err != nil {
				return err
			}
			tool, err := verilator.Find(p.Tools.Verilator)
			if err != nil {
				fmt.Fprintln(out, "verilator: not found")
				return nil
			}
			v, err := tool.Version(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "verilator %s (%s)\n", v.Original(), tool.Path)
			if !verilator.FlushCallOK(v) {
				fmt.Fprintln(out, "  note: this release lacks Verilated::flushCall")
			}
			return nil
		},
	}
}
