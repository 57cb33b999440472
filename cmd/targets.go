package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var targetsCmd = &cobra.Command{
	Use:   "targets",
	Short: "List tracked targets",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		targets, err := st.ListTargets(cmd.Context())
		if err != nil {
			return err
		}
		if len(targets) == 0 {
			fmt.Println("no tracked targets")
			return nil
		}

		p := message.NewPrinter(language.English)
		for _, t := range targets {
			p.Printf("%-20s [%d]  $%d  %s  last sale %s ago\n",
				t.ActorName, t.ActorID, t.AccumulatedValue, t.Condition,
				time.Since(t.LastSaleTime).Round(time.Second))
		}
		return nil
	},
}

var targetsShowCmd = &cobra.Command{
	Use:   "show <actor-id>",
	Short: "Show one target with its recent transactions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		actorID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid actor id %q", args[0])
		}

		st, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		rec, err := st.GetTarget(cmd.Context(), actorID)
		if err != nil {
			return err
		}
		if rec == nil {
			fmt.Printf("actor %d is not tracked\n", actorID)
			return nil
		}

		p := message.NewPrinter(language.English)
		p.Printf("%s [%d]\n", rec.ActorName, rec.ActorID)
		p.Printf("  accumulated:  $%d\n", rec.AccumulatedValue)
		p.Printf("  status:       %s (%s)\n", rec.StatusState, rec.Condition)
		p.Printf("  last action:  %d minutes ago\n", rec.LastActionMinutes)
		p.Printf("  first seen:   %s\n", rec.FirstDetected.Format(time.RFC3339))
		p.Printf("  last sale:    %s\n", rec.LastSaleTime.Format(time.RFC3339))
		if rec.LastAlertedAt != nil {
			p.Printf("  last alerted: %s ($%d)\n", rec.LastAlertedAt.Format(time.RFC3339), *rec.LastAlertedValue)
		}

		txns, err := st.ListTransactions(cmd.Context(), actorID, 20)
		if err != nil {
			return err
		}
		if len(txns) > 0 {
			fmt.Println("  recent sales:")
			for _, tx := range txns {
				p.Printf("    %s  %dx %s @ $%d = $%d\n",
					tx.DetectedAt.Format("15:04:05"), tx.Quantity, tx.ItemName, tx.UnitPrice, tx.TotalValue)
			}
		}
		return nil
	},
}

func init() {
	targetsCmd.AddCommand(targetsShowCmd)
	rootCmd.AddCommand(targetsCmd)
}
