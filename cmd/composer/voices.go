package main

import (
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var voicesCmd = &cobra.Command{
	Use:   "voices",
	Short: "List the voices in the catalog",
	Args:  cobra.NoArgs,
	RunE:  runVoices,
}

func init() {
	rootCmd.AddCommand(voicesCmd)
}

func runVoices(cmd *cobra.Command, args []string) error {
	_, cat, err := offlineComposer(catalogPath, "")
	if err != nil {
		return err
	}

	speakers := make(map[string][]string)
	for name, id := range cat.Speakers() {
		speakers[id] = append(speakers[id], name)
	}
	for _, names := range speakers {
		sort.Strings(names)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VOICE\tLOCALE\tGENDER\tSPEAKERS\tSTYLES\tBACKENDS")
	for _, v := range cat.ListVoices() {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			v.ID, v.Locale, v.Gender,
			strings.Join(speakers[v.ID], ","),
			strings.Join(v.Styles, ","),
			strings.Join(v.Backends, ","))
	}
	return w.Flush()
}
