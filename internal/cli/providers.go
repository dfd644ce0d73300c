package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/storyloop/internal/provider"
)

func newProvidersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List agent providers and whether they are installed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := provider.NewRegistry()
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(w, "ID\tNAME\tEXECUTABLE\tINSTALLED")
			for _, p := range reg.List() {
				installed := "yes"
				if !provider.Available(p) {
					installed = "no (" + p.InstallHint() + ")"
				}
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.ID(), p.Name(), p.Executable(), installed)
			}
			return w.Flush()
		},
	}
}
