package main

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/mediacheck/mediacheck/internal/checker"
	"github.com/mediacheck/mediacheck/internal/sysinfo"
)

func newDoctorCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check that ffmpeg works and show host resources",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()
			return a.runDoctor(ctx)
		},
	}
}

func (a *app) runDoctor(ctx context.Context) error {
	cfg := a.cfg
	pterm.DefaultSection.Println("ffmpeg")

	ffmpeg, err := checker.New(cfg.FFmpeg.Path, cfg.FFmpeg.ExtraArgs)
	if err != nil {
		return err
	}
	tool, probeErr := ffmpeg.Probe(ctx)
	if probeErr != nil {
		pterm.Error.Printfln("%s: %v", cfg.FFmpeg.Path, probeErr)
	} else {
		fast := "yes"
		if !tool.SupportsFastCheck() {
			fast = "no (ffmpeg too old for -sseof)"
		}
		pterm.DefaultTable.WithData(pterm.TableData{
			{"Binary", tool.Path},
			{"Version", tool.Version},
			{"Fast check", fast},
			{"Extra args", checker.QuoteArgs(ffmpeg.ExtraArgs)},
		}).Render() //nolint:errcheck
	}

	pterm.DefaultSection.Println("Host")
	info, err := sysinfo.Collect(ctx)
	if err != nil {
		a.log.Debugw("incomplete host info", "error", err)
	}
	pterm.DefaultTable.WithData(pterm.TableData{
		{"Hostname", info.Hostname},
		{"OS", info.OS + " " + info.Platform},
		{"CPUs", fmt.Sprintf("%d logical, %d physical", info.LogicalCPUs, info.PhysicalCPUs)},
		{"Memory", humanize.IBytes(info.MemoryAvailable) + " available of " + humanize.IBytes(info.MemoryTotal)},
	}).Render() //nolint:errcheck

	pterm.DefaultSection.Println("Settings")
	file := cfg.File
	if file == "" {
		file = "(none, defaults and environment)"
	}
	pterm.DefaultTable.WithData(pterm.TableData{
		{"Config file", file},
		{"Concurrency", fmt.Sprintf("%d (max %d)", cfg.Check.Concurrency, cfg.Check.MaxConcurrency)},
		{"Fast check", fmt.Sprintf("%t, %ds", cfg.Check.Fast, cfg.Check.FastSeconds)},
		{"Database", cfg.Database.Path},
	}).Render() //nolint:errcheck

	if probeErr != nil {
		return exitCode(1)
	}
	pterm.Success.Println("ffmpeg is ready")
	return nil
}
