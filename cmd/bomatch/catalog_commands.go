package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"bomatch/internal/catalog"
)

func newCatalogCommand(ctx *commandContext) *cobra.Command {
	catalogCmd := &cobra.Command{
		Use:   "catalog",
		Short: "Import and inspect builds",
	}

	catalogCmd.AddCommand(newCatalogImportCommand(ctx))
	catalogCmd.AddCommand(newCatalogListCommand(ctx))
	catalogCmd.AddCommand(newCatalogShowCommand(ctx))

	return catalogCmd
}

func newCatalogImportCommand(ctx *commandContext) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import a build (BOM, templates and confusion groups) from YAML or JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(file) == "" {
				return errors.New("--file is required")
			}
			build, err := catalog.ReadBuildFile(file)
			if err != nil {
				return err
			}
			store, err := ctx.openStore(true)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.ImportBuild(cmd.Context(), build); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported build %s: %d BOM entries, %d templates, %d confusion groups\n",
				build.ID, len(build.Entries), len(build.Templates), len(build.Groups))
			return nil
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Build document to import")
	return cmd
}

func newCatalogListCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List imported builds",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openStore(false)
			if err != nil {
				return err
			}
			defer store.Close()

			builds, err := store.ListBuilds(cmd.Context())
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, builds)
			}
			out := cmd.OutOrStdout()
			if len(builds) == 0 {
				fmt.Fprintln(out, "No builds imported")
				return nil
			}
			rows := make([][]string, 0, len(builds))
			for _, b := range builds {
				rows = append(rows, []string{
					b.ID,
					b.Name,
					strconv.Itoa(b.Entries),
					strconv.Itoa(b.Templates),
					fmt.Sprintf("%d/%d", b.Used, b.Units),
					b.ImportedAt.Local().Format("2006-01-02 15:04"),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Build", "Name", "Entries", "Templates", "Used", "Imported"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft},
			))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newCatalogShowCommand(ctx *commandContext) *cobra.Command {
	var buildID string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show a build's templates and confusion groups",
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
			if asJSON {
				return writeJSON(cmd, buildView(build))
			}

			out := cmd.OutOrStdout()
			color := shouldColorize(out)
			title := build.ID
			if build.Name != "" {
				title += " (" + build.Name + ")"
			}
			fmt.Fprintln(out, sectionHeader(title, color))

			rows := make([][]string, 0, len(build.Templates))
			for _, tpl := range build.Templates {
				rows = append(rows, []string{
					tpl.ID,
					tpl.PartID,
					strconv.Itoa(tpl.ColorID),
					strconv.Itoa(tpl.StudCount),
					yesNo(tpl.TopologyApplicable),
					strings.Join(tpl.ConfusionGroups, ", "),
					formatScore(tpl.SuccessRate),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Template", "Part", "Color", "Studs", "Topology", "Groups", "Success"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignLeft, alignLeft, alignRight},
			))
			if len(build.Groups) > 0 {
				fmt.Fprintln(out, sectionHeader("Confusion groups", color))
				for _, g := range build.Groups {
					fmt.Fprintf(out, "  %s: %s\n", g.Name, strings.Join(g.Members, ", "))
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&buildID, "build", "b", "", "Build id")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

// templateView drops embeddings from JSON output.
type templateView struct {
	ID              string   `json:"id"`
	PartID          string   `json:"part_id"`
	ColorID         int      `json:"color_id"`
	ElementID       string   `json:"element_id,omitempty"`
	StudCount       int      `json:"stud_count"`
	ConfusionGroups []string `json:"confusion_groups,omitempty"`
	HitRate         float64  `json:"hit_rate"`
	SuccessRate     float64  `json:"success_rate"`
	Dimensions      int      `json:"dimensions"`
}

type buildJSON struct {
	ID        string                   `json:"build"`
	Name      string                   `json:"name,omitempty"`
	Entries   []catalog.BOMEntry       `json:"bom"`
	Templates []templateView           `json:"templates"`
	Groups    []catalog.ConfusionGroup `json:"confusion_groups,omitempty"`
}

func buildView(build *catalog.Build) buildJSON {
	view := buildJSON{ID: build.ID, Name: build.Name, Entries: build.Entries, Groups: build.Groups}
	for _, tpl := range build.Templates {
		view.Templates = append(view.Templates, templateView{
			ID:              tpl.ID,
			PartID:          tpl.PartID,
			ColorID:         tpl.ColorID,
			ElementID:       tpl.ElementID,
			StudCount:       tpl.StudCount,
			ConfusionGroups: tpl.ConfusionGroups,
			HitRate:         tpl.HitRate,
			SuccessRate:     tpl.SuccessRate,
			Dimensions:      len(tpl.Embeddings.Image),
		})
	}
	return view
}
