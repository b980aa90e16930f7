package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wippyai/vlsim/buildcache"
	"github.com/wippyai/vlsim/gtkwave"
	"github.com/wippyai/vlsim/loader"
	"github.com/wippyai/vlsim/native"
	"github.com/wippyai/vlsim/signal"
	"github.com/wippyai/vlsim/sim"
	"github.com/wippyai/vlsim/verilator"
	"github.com/wippyai/vlsim/wasmmodel"
)

var version = "0.1.0-dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "vlsim",
		Short: "Build and drive Verilator models from Go",
		Long: `vlsim compiles Verilog designs with Verilator, links them with a
generated glue layer and runs the result as a native shared object or a
WASI module.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			verbose, _ := cmd.Flags().GetBool("verbose")
			if !verbose {
				return nil
			}
			l, err := zap.NewDevelopment()
			if err != nil {
				return err
			}
			installLogger(l)
			return nil
		},
	}

	root.PersistentFlags().BoolP("verbose", "v", false, "Log build steps and loader activity")
	root.PersistentFlags().String("config", "", "Project file (default: vlsim.yaml in the working directory or beside the top file)")

	root.AddCommand(
		newVersionCmd(),
		newBuildCmd(),
		newGenCmd(),
		newInspectCmd(),
		newRunCmd(),
		newReplCmd(),
	)
	return root
}

func installLogger(l *zap.Logger) {
	buildcache.SetLogger(l)
	gtkwave.SetLogger(l)
	loader.SetLogger(l)
	native.SetLogger(l)
	signal.SetLogger(l)
	sim.SetLogger(l)
	verilator.SetLogger(l)
	wasmmodel.SetLogger(l)
}
