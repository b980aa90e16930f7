package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wippyai/vlsim/config"
	"github.com/wippyai/vlsim/loader"
	"github.com/wippyai/vlsim/sim"
)

func addBuildFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringArrayP("search-path", "y", nil, "Directory searched for modules (repeatable)")
	f.StringArrayP("define", "D", nil, "Preprocessor define NAME or NAME=value (repeatable)")
	f.String("build-dir", "", "Directory for verilator output")
	f.Bool("trace-fst", false, "Record FST instead of VCD")
	f.Int("trace-depth", 0, "Limit tracing depth below the top module")
	f.String("json", "", "File whose contents are embedded in the artifact")
	f.String("target", "", "Artifact kind: native or wasi")
	f.Bool("cache", false, "Reuse identical earlier builds")
	f.Bool("verify-glue", false, "Parse the generated glue before compiling it")
	f.StringArray("plusarg", nil, "Plusarg handed to the model, e.g. +seed=3 (repeatable)")
}

// loadProject finds the project file for top: --config, then the working
// directory, then top's directory. Without one the defaults apply.
func loadProject(cmd *cobra.Command, top string) (*config.Project, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		if wd, err := os.Getwd(); err == nil {
			path = config.Find(wd)
		}
	}
	if path == "" && top != "" {
		path = config.Find(filepath.Dir(top))
	}
	if path == "" {
		p := config.Default()
		config.ApplyEnv(p)
		return p, nil
	}
	return config.Load(path)
}

// buildOptions merges the project file with command-line flags. Flags win.
func buildOptions(cmd *cobra.Command, top string) (loader.Options, error) {
	p, err := loadProject(cmd, top)
	if err != nil {
		return loader.Options{}, err
	}
	f := cmd.Flags()
	if top != "" {
		p.Top = top
	}
	if f.Changed("search-path") {
		p.SearchPaths, _ = f.GetStringArray("search-path")
	}
	if f.Changed("define") {
		p.Defines, _ = f.GetStringArray("define")
	}
	if f.Changed("build-dir") {
		p.BuildDir, _ = f.GetString("build-dir")
	}
	if fst, _ := f.GetBool("trace-fst"); fst {
		p.Trace.Format = "fst"
	}
	if f.Changed("trace-depth") {
		p.Trace.Depth, _ = f.GetInt("trace-depth")
	}
	if f.Changed("target") {
		p.Target, _ = f.GetString("target")
	}
	if on, _ := f.GetBool("cache"); on {
		p.Cache.Enabled = true
	}
	if on, _ := f.GetBool("verify-glue"); on {
		p.VerifyGlue = true
	}
	if f.Changed("plusarg") {
		p.CommandArgs, _ = f.GetStringArray("plusarg")
	}
	if path, _ := f.GetString("json"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return loader.Options{}, fmt.Errorf("read json payload: %w", err)
		}
		p.JSONData = string(data)
	}
	if err := p.Validate(); err != nil {
		return loader.Options{}, err
	}
	return loader.FromProject(p), nil
}

func isDesignFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".v" || ext == ".sv"
}

// openSimulation builds target when it is a design file and loads it
// otherwise.
func openSimulation(cmd *cobra.Command, target string, extra ...sim.Option) (*sim.Simulation, error) {
	ctx := cmd.Context()
	if isDesignFile(target) {
		opts, err := buildOptions(cmd, target)
		if err != nil {
			return nil, err
		}
		opts.SimOptions = append(opts.SimOptions, extra...)
		return loader.Build(ctx, opts)
	}

	simOpts := extra
	if args, _ := cmd.Flags().GetStringArray("plusarg"); len(args) > 0 {
		simOpts = append([]sim.Option{sim.WithCommandArgs(args)}, extra...)
	}
	return loader.Load(ctx, target, simOpts...)
}

func newBuildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build <top.v>",
		Short: "Verilate a design and link it into a loadable artifact",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			genOnly, _ := cmd.Flags().GetBool("gen-only")
			return runBuild(cmd, args, genOnly)
		},
	}
	addBuildFlags(cmd)
	cmd.Flags().Bool("gen-only", false, "Stop after writing the glue source")
	return cmd
}

func newGenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gen <top.v>",
		Short: "Run verilator and write the glue source without linking",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(cmd, args, true)
		},
	}
	addBuildFlags(cmd)
	return cmd
}

func runBuild(cmd *cobra.Command, args []string, genOnly bool) error {
	top := ""
	if len(args) == 1 {
		top = args[0]
	}
	opts, err := buildOptions(cmd, top)
	if err != nil {
		return err
	}
	opts.GenOnly = genOnly

	res, err := loader.Compile(cmd.Context(), opts)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "module:    %s\n", res.Module)
	fmt.Fprintf(out, "verilator: %s\n", res.VerilatorVersion)
	if res.Glue != "" {
		fmt.Fprintf(out, "glue:      %s\n", res.Glue)
	}
	if res.Artifact != "" {
		suffix := ""
		if res.Cached {
			suffix = " (cached)"
		}
		fmt.Fprintf(out, "artifact:  %s%s\n", res.Artifact, suffix)
	}
	return nil
}
