package main

import (
	"os"
	"strings"
	"text/tabwriter"
)

func newTabwriter() *tabwriter.Writer {
	return tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
}

func makeExample(examples ...string) string {
	var s []string
	for _, e := range examples {
		s = append(s, "  "+e)
	}
	return strings.Join(s, "\n")
}
