package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/wippyai/vlsim/abi"
	"github.com/wippyai/vlsim/loader"
	"github.com/wippyai/vlsim/names"
)

func newInspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect <artifact>",
		Short: "Print the signal table embedded in an artifact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lib, err := loader.Open(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			defer lib.Close()

			meta, err := lib.Metadata()
			if err != nil {
				return err
			}
			payload, _ := cmd.Flags().GetBool("payload")
			if payload {
				_, err := cmd.OutOrStdout().Write(meta.JSON)
				return err
			}
			return printMetadata(cmd.OutOrStdout(), meta)
		},
	}
	cmd.Flags().Bool("payload", false, "Print only the embedded JSON payload")
	return cmd
}

func printMetadata(out io.Writer, meta *abi.Metadata) error {
	fmt.Fprintf(out, "module: %s\n", meta.Module)
	fmt.Fprintf(out, "trace:  %s\n", meta.TraceFormat)
	fmt.Fprintf(out, "json:   %d bytes\n\n", len(meta.JSON))

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "INDEX\tKIND\tWIDTH\tNAME\tPATH")
	for _, s := range meta.Signals() {
		path := s.Name
		if s.Category == abi.Internal {
			if p, err := names.Decode(s.Name); err == nil {
				path = p.Dotted()
			} else {
				path = "-"
			}
		}
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\n", s.Index, s.Category, s.Width, s.Name, path)
	}
	return tw.Flush()
}
