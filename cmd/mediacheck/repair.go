package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/mediacheck/mediacheck/internal/checker"
	"github.com/mediacheck/mediacheck/internal/errors"
)

func newRepairCmd(a *app) *cobra.Command {
	var (
		method string
		output string
		run    bool
	)
	cmd := &cobra.Command{
		Use:   "repair <file>",
		Short: "Print (or run) an ffmpeg command that rewrites a damaged file",
		Long: `Repair builds an ffmpeg command that re-muxes (--method copy) or re-encodes
(--method h264, h265) a file into a new output. The input is never modified.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := checker.ParseRepairMethod(method)
			if err != nil {
				return err
			}
			out := output
			if out == "" {
				out = checker.DefaultRepairOutput(args[0])
			}
			if out == args[0] {
				return errors.Wrap(errors.ErrInvalidArgument, "output must differ from the input")
			}
			argv := checker.RepairArgs(a.cfg.FFmpeg.Path, args[0], out, m)
			if !run {
				fmt.Fprintln(cmd.OutOrStdout(), checker.QuoteArgs(argv))
				return nil
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			pterm.Info.Println(checker.QuoteArgs(argv))
			if err := checker.RunRepair(ctx, argv); err != nil {
				return err
			}
			pterm.Success.Printfln("Repaired copy written to %s", out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&method, "method", "m", string(checker.RepairCopy), "copy, h264 or h265")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default <name>_repaired<ext>)")
	cmd.Flags().BoolVar(&run, "run", false, "run the command instead of printing it")
	return cmd
}
