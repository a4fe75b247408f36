package commands

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	natmap "github.com/nknorg/go-natmap"
)

func newScanCmd() *cobra.Command {
	var wait time.Duration

	scanCmd := &cobra.Command{
		Use:   "scan",
		Short: "List Internet Gateway Devices answering SSDP searches",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ads, err := natmap.ScanGateways(wait)
			if err != nil {
				return fmt.Errorf("ssdp search: %w", err)
			}
			if len(ads) == 0 {
				fmt.Fprintln(cmd.ErrOrStderr(), "no gateways found")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TYPE\tLOCATION\tSERVER\tUSN")
			for _, ad := range ads {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", ad.Type, ad.Location, ad.Server, ad.USN)
			}
			return w.Flush()
		},
	}

	scanCmd.Flags().DurationVar(&wait, "wait", 3*time.Second, "how long to wait for responses")
	return scanCmd
}
