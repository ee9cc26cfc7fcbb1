package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

type runStatusOpts struct {
	*rootOpts
	events bool
}

func newRunStatus(parent *rootOpts) *runStatusOpts {
	return &runStatusOpts{rootOpts: parent}
}

func (opts *runStatusOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "status <run-id>",
		Short:   "Show the stage-by-stage state of a run.",
		Example: makeExample("shipctl status 6b1f4c2e-...", "shipctl status --events 6b1f4c2e-..."),
		RunE:    opts.RunE,
	}
	cmd.Flags().BoolVar(&opts.events, "events", false, "Also show the run's event history")
	return cmd
}

func (opts *runStatusOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) != 1 {
		return errorWantedRunID
	}

	r, err := opts.API.GetRun(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Run:      %s\n", r.ID)
	fmt.Printf("Revision: %s\n", r.Revision)
	fmt.Printf("Trigger:  %s (%s)\n", r.Trigger, r.Branch)
	fmt.Printf("Status:   %s\n", r.Status)
	if r.Image != nil {
		fmt.Printf("Image:    %s (scan: %s)\n", r.Image.Ref, r.Image.Outcome)
	}
	fmt.Println()

	w := newTabwriter()
	fmt.Fprintln(w, "STAGE\tSTATUS\tDETAIL")
	for _, s := range r.Stages {
		detail := s.Error
		if detail == "" && s.ArtifactRef != "" {
			detail = s.ArtifactRef
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", s.Name, s.Status, detail)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if !opts.events {
		return nil
	}
	evs, err := opts.API.RunEvents(args[0])
	if err != nil {
		return err
	}
	fmt.Println()
	ew := newTabwriter()
	fmt.Fprintln(ew, "TIME\tEVENT\tMESSAGE")
	for _, ev := range evs {
		fmt.Fprintf(ew, "%s\t%s\t%s\n", ev.RecordedAt.Format("15:04:05"), ev.Type, ev.Message)
	}
	return ew.Flush()
}
