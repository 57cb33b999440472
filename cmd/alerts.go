package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var alertsLimit int

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Show recently delivered alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		count, err := st.CountAlertsSince(cmd.Context(), time.Now().UTC().Add(-24*time.Hour))
		if err != nil {
			return err
		}
		fmt.Printf("%d alerts in the last 24h\n", count)

		alerts, err := st.RecentAlerts(cmd.Context(), alertsLimit)
		if err != nil {
			return err
		}

		p := message.NewPrinter(language.English)
		for _, a := range alerts {
			p.Printf("%s  %s [%d]  $%d\n",
				a.SentAt.Format(time.RFC3339), a.ActorName, a.ActorID, a.AccumulatedValue)
		}
		return nil
	},
}

func init() {
	alertsCmd.Flags().IntVar(&alertsLimit, "limit", 20, "number of alerts to show")
	rootCmd.AddCommand(alertsCmd)
}
