package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/torn-tools/bazaarwatch/internal/model"
)

var itemsCmd = &cobra.Command{
	Use:   "items",
	Short: "Manage the monitored item list",
}

var itemsAddCmd = &cobra.Command{
	Use:   "add <item-id> <name>",
	Short: "Add an item to monitor",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		itemID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid item id %q", args[0])
		}
		name := strings.Join(args[1:], " ")

		st, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.UpsertItem(cmd.Context(), model.MonitoredItem{
			ItemID:   itemID,
			ItemName: name,
			Enabled:  true,
		}); err != nil {
			return err
		}
		fmt.Printf("monitoring %s [%d]\n", name, itemID)
		return nil
	},
}

var itemsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List monitored items",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		items, err := st.ListItems(cmd.Context())
		if err != nil {
			return err
		}
		if len(items) == 0 {
			fmt.Println("no monitored items")
			return nil
		}
		for _, it := range items {
			state := "enabled"
			if !it.Enabled {
				state = "disabled"
			}
			fmt.Printf("%-8d %-30s %s\n", it.ItemID, it.ItemName, state)
		}
		return nil
	},
}

func setItemEnabled(enabled bool) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		itemID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid item id %q", args[0])
		}

		st, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.SetItemEnabled(cmd.Context(), itemID, enabled); err != nil {
			return err
		}
		fmt.Printf("item %d %s\n", itemID, map[bool]string{true: "enabled", false: "disabled"}[enabled])
		return nil
	}
}

var itemsEnableCmd = &cobra.Command{
	Use:   "enable <item-id>",
	Short: "Enable a monitored item",
	Args:  cobra.ExactArgs(1),
	RunE:  setItemEnabled(true),
}

var itemsDisableCmd = &cobra.Command{
	Use:   "disable <item-id>",
	Short: "Disable a monitored item without removing it",
	Args:  cobra.ExactArgs(1),
	RunE:  setItemEnabled(false),
}

var itemsImportCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Import monitored items from a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read %s: %w", args[0], err)
		}

		var items []model.MonitoredItem
		if err := yaml.Unmarshal(raw, &items); err != nil {
			return fmt.Errorf("parse %s: %w", args[0], err)
		}

		st, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		for _, it := range items {
			if err := st.UpsertItem(cmd.Context(), it); err != nil {
				return fmt.Errorf("import item %d: %w", it.ItemID, err)
			}
		}
		fmt.Printf("imported %d items\n", len(items))
		return nil
	},
}

func init() {
	itemsCmd.AddCommand(itemsAddCmd, itemsListCmd, itemsEnableCmd, itemsDisableCmd, itemsImportCmd)
	rootCmd.AddCommand(itemsCmd)
}
