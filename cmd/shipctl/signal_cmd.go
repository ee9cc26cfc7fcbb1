package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// signalOpts covers the three run signals, which differ only in the
// endpoint they hit.
type signalOpts struct {
	*rootOpts
	verb string
	desc string
	send func(*client, string) error
}

func newSignal(parent *rootOpts, verb, desc string, send func(*client, string) error) *signalOpts {
	return &signalOpts{rootOpts: parent, verb: verb, desc: desc, send: send}
}

func (opts *signalOpts) Command() *cobra.Command {
	return &cobra.Command{
		Use:     opts.verb + " <run-id>",
		Short:   opts.desc,
		Example: makeExample("shipctl " + opts.verb + " 6b1f4c2e-..."),
		RunE:    opts.RunE,
	}
}

func (opts *signalOpts) RunE(cmd *cobra.Command, args []string) error {
	if len(args) != 1 {
		return errorWantedRunID
	}
	if err := opts.send(opts.API, args[0]); err != nil {
		return err
	}
	fmt.Printf("%sed run %s\n", trimE(opts.verb), args[0])
	return nil
}

func trimE(verb string) string {
	if verb[len(verb)-1] == 'e' {
		return verb[:len(verb)-1]
	}
	return verb
}
