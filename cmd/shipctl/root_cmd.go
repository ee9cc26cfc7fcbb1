package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

const envVariableURL = "SHIPD_URL"

type rootOpts struct {
	URL string
	API *client
}

func newRoot() *rootOpts {
	return &rootOpts{}
}

var rootLongHelp = strings.TrimSpace(`
shipctl drives and inspects the shipd release pipeline.

Workflow:
  shipctl list                      # What ran, and how did it go?
  shipctl status <run-id>           # Stage-by-stage detail for one run.
  shipctl approve <run-id>          # Publish a run suspended on the vulnerability gate.
  shipctl reject <run-id>           # Refuse it instead.
`)

func (opts *rootOpts) Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:               "shipctl",
		Long:              rootLongHelp,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: opts.PersistentPreRunE,
	}
	cmd.PersistentFlags().StringVarP(&opts.URL, "url", "u", "http://localhost:3030/api/v1",
		fmt.Sprintf("base URL of the shipd API server; you can also set the environment variable %s", envVariableURL))

	cmd.AddCommand(
		newRunList(opts).Command(),
		newRunStatus(opts).Command(),
		newSignal(opts, "approve", "Approve a run suspended on the vulnerability gate.", func(c *client, id string) error { return c.Approve(id) }).Command(),
		newSignal(opts, "reject", "Reject a suspended run; it fails without publishing.", func(c *client, id string) error { return c.Reject(id) }).Command(),
		newSignal(opts, "cancel", "Cancel a run; it stops before its next stage.", func(c *client, id string) error { return c.Cancel(id) }).Command(),
		newTrigger(opts).Command(),
	)

	return cmd
}

func (opts *rootOpts) PersistentPreRunE(cmd *cobra.Command, _ []string) error {
	url := os.Getenv(envVariableURL)
	if cmd.Flags().Changed("url") || url == "" {
		url = opts.URL
	}
	opts.API = newClient(url)
	return nil
}
