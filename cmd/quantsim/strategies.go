package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/newthinker/quantsim/internal/strategy/catalog"
)

var strategiesCmd = &cobra.Command{
	Use:   "strategies",
	Short: "List available strategies",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		descriptions := catalog.Describe()
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tDEFAULT")
		for _, name := range catalog.Names() {
			fmt.Fprintf(w, "%s\t%s\n", name, descriptions[name])
		}
		w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(strategiesCmd)
}
