package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shipd-io/shipd/pkg/image"
	"github.com/shipd-io/shipd/pkg/trigger"
)

type triggerOpts struct {
	*rootOpts
	kind         string
	branch       string
	changedPaths []string
}

func newTrigger(parent *rootOpts) *triggerOpts {
	return &triggerOpts{rootOpts: parent}
}

func (opts *triggerOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "trigger <revision>",
		Short:   "Submit a trigger event by hand, as a webhook would.",
		Example: makeExample("shipctl trigger --branch main 0123456789abcdef0123456789abcdef01234567"),
		RunE:    opts.RunE,
	}
	cmd.Flags().StringVar(&opts.kind, "kind", string(trigger.KindPush), `trigger kind: "push" or "pull_request"`)
	cmd.Flags().StringVar(&opts.branch, "branch", "main", "branch the event is for")
	cmd.Flags().StringSliceVar(&opts.changedPaths, "changed-path", nil, "path changed by the push; repeatable")
	return cmd
}

func (opts *triggerOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) != 1 {
		return newUsageError("expected a single commit hash argument")
	}
	rev, err := image.ParseRevision(args[0])
	if err != nil {
		return err
	}

	r, err := opts.API.Trigger(trigger.Event{
		Kind:         trigger.Kind(opts.kind),
		Branch:       opts.branch,
		Revision:     rev,
		ChangedPaths: opts.changedPaths,
	})
	if err != nil {
		return err
	}
	if r == nil {
		fmt.Println("event accepted but no run started (activation rule)")
		return nil
	}
	fmt.Printf("started run %s for %s\n", r.ID, r.Revision.Short())
	return nil
}
