package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/shipd-io/shipd/pkg/run"
)

type runListOpts struct {
	*rootOpts
	pending bool
}

func newRunList(parent *rootOpts) *runListOpts {
	return &runListOpts{rootOpts: parent}
}

func (opts *runListOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "list",
		Short:   "List pipeline runs.",
		Example: makeExample("shipctl list", "shipctl list --pending"),
		RunE:    opts.RunE,
	}
	cmd.Flags().BoolVar(&opts.pending, "pending", false, "Only show runs awaiting approval")
	return cmd
}

func (opts *runListOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) != 0 {
		return errorWantedNoArgs
	}

	runs, err := opts.API.ListRuns()
	if err != nil {
		return err
	}
	if opts.pending {
		var kept []*run.Run
		for _, r := range runs {
			if r.Status == run.StatusAwaitingApproval {
				kept = append(kept, r)
			}
		}
		runs = kept
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})

	w := newTabwriter()
	fmt.Fprintln(w, "RUN\tREVISION\tTRIGGER\tSTATUS\tCREATED")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.Revision.Short(), r.Trigger, r.Status,
			r.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}
