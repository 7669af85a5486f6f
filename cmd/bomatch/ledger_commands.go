package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"bomatch/internal/ledger"
)

func newLedgerCommand(ctx *commandContext) *cobra.Command {
	ledgerCmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect and reset persisted BOM usage",
	}

	ledgerCmd.AddCommand(newLedgerShowCommand(ctx))
	ledgerCmd.AddCommand(newLedgerResetCommand(ctx))

	return ledgerCmd
}

type ledgerRow struct {
	Part      string `json:"part_id"`
	Color     int    `json:"color_id"`
	Element   string `json:"element_id,omitempty"`
	Quantity  int    `json:"quantity"`
	Used      int    `json:"used"`
	Remaining int    `json:"remaining"`
}

type ledgerView struct {
	Build   string      `json:"build"`
	Halted  string      `json:"halted,omitempty"`
	Entries []ledgerRow `json:"entries"`
}

func newLedgerShowCommand(ctx *commandContext) *cobra.Command {
	var buildID string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show BOM quantities and usage for a build",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(buildID) == "" {
				return errors.New("--build is required")
			}
			store, err := ctx.openStore(false)
			if err != nil {
				return err
			}
			defer store.Close()

			build, err := store.LoadBuild(cmd.Context(), buildID)
			if err != nil {
				return err
			}
			usage, err := store.LoadUsage(cmd.Context(), buildID)
			if err != nil {
				return err
			}
			l, err := ledger.New(build.Entries)
			if err != nil {
				return err
			}

			view := ledgerView{Build: build.ID}
			if err := l.Restore(usage); err != nil {
				view.Halted = err.Error()
			}
			for _, e := range l.Snapshot() {
				view.Entries = append(view.Entries, ledgerRow{
					Part:      e.Key.PartID,
					Color:     e.Key.ColorID,
					Element:   e.Key.ElementID,
					Quantity:  e.Quantity,
					Used:      e.Used,
					Remaining: e.Remaining(),
				})
			}
			if asJSON {
				return writeJSON(cmd, view)
			}

			out := cmd.OutOrStdout()
			color := shouldColorize(out)
			rows := make([][]string, 0, len(view.Entries))
			for _, r := range view.Entries {
				remaining := strconv.Itoa(r.Remaining)
				if r.Remaining == 0 {
					remaining = colorize(remaining, ansiYellow, color)
				}
				rows = append(rows, []string{
					r.Part,
					strconv.Itoa(r.Color),
					r.Element,
					strconv.Itoa(r.Quantity),
					strconv.Itoa(r.Used),
					remaining,
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Part", "Color", "Element", "Quantity", "Used", "Remaining"},
				rows,
				[]columnAlignment{alignLeft, alignRight, alignLeft, alignRight, alignRight, alignRight},
			))
			if view.Halted != "" {
				fmt.Fprintln(out, colorize("Ledger halted: "+view.Halted, ansiRed, color))
				fmt.Fprintf(out, "Run `bomatch ledger reset --build %s` to rebuild from the BOM.\n", build.ID)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&buildID, "build", "b", "", "Build id")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newLedgerResetCommand(ctx *commandContext) *cobra.Command {
	var buildID string

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Zero the persisted usage of a build",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(buildID) == "" {
				return errors.New("--build is required")
			}
			store, err := ctx.openStore(true)
			if err != nil {
				return err
			}
			defer store.Close()

			n, err := store.ResetUsage(cmd.Context(), buildID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Reset usage for %d entries of build %s\n", n, buildID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&buildID, "build", "b", "", "Build id")
	return cmd
}
