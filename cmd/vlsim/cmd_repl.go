package main

import (
	"errors"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func newReplCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repl <artifact|top.v>",
		Short: "Explore a model interactively",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !term.IsTerminal(int(os.Stdout.Fd())) || !term.IsTerminal(int(os.Stdin.Fd())) {
				return errors.New("repl needs an interactive terminal; use run for scripted stimulus")
			}
			traceFile, _ := cmd.Flags().GetString("vcd")

			s, err := openSimulation(cmd, args[0])
			if err != nil {
				return err
			}
			defer s.Close()

			p := tea.NewProgram(newReplModel(s, args[0], traceFile), tea.WithAltScreen())
			_, err = p.Run()
			return err
		},
	}
	addBuildFlags(cmd)
	cmd.Flags().String("vcd", "vlsim.vcd", "Waveform file used when tracing is toggled on")
	return cmd
}
