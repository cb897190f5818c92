package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/git-pkgs/repositories/internal/core"
	"github.com/git-pkgs/repositories/resolve"
)

func newResolveCmd(a *app) *cobra.Command {
	var (
		remotes          []string
		requireChecksums bool
		asJSON           bool
	)
	cmd := &cobra.Command{
		Use:   "resolve REPOSITORY COORDINATE...",
		Short: "Resolve project models into a managed repository",
		Long: `Resolve project models into a managed repository, fetching them through
its proxy connectors when they are not stored yet.

Coordinates are groupId:artifactId:version or maven package URLs such as
pkg:maven/org.example/lib@1.0.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			coords := make([]core.Coordinate, 0, len(args)-1)
			for _, arg := range args[1:] {
				c, err := parseCoordinate(arg)
				if err != nil {
					return err
				}
				coords = append(coords, c)
			}
			if err := a.open(ctx); err != nil {
				return err
			}
			r, err := a.resolver(args[0], remotes, requireChecksums)
			if err != nil {
				return err
			}

			if len(coords) == 1 {
				m, err := r.ResolveModel(ctx, coords[0].GroupID, coords[0].ArtifactID, coords[0].Version)
				if err != nil {
					return err
				}
				return printModels(cmd, asJSON, []*resolve.ResolvedModel{m})
			}

			results := resolve.BulkResolveWithConcurrency(ctx, r, coords, a.settings.ResolveWorkers)
			models := make([]*resolve.ResolvedModel, 0, len(results))
			var failed []string
			for _, c := range coords {
				if m, ok := results[c.String()]; ok {
					models = append(models, m)
				} else {
					failed = append(failed, c.String())
				}
			}
			if err := printModels(cmd, asJSON, models); err != nil {
				return err
			}
			if len(failed) > 0 {
				return fmt.Errorf("%d of %d models not resolved: %s (see repoman health)",
					len(failed), len(coords), strings.Join(failed, ", "))
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringArrayVar(&remotes, "remote", nil, "additional remote repository URL, tried after the connectors")
	f.BoolVar(&requireChecksums, "require-checksums", false, "reject models without checksum files")
	f.BoolVar(&asJSON, "json", false, "print models as JSON")
	f.Int("workers", 0, "parallel resolutions")
	return cmd
}

// parseCoordinate accepts groupId:artifactId:version or a maven package URL.
func parseCoordinate(s string) (core.Coordinate, error) {
	var (
		c   core.Coordinate
		err error
	)
	if strings.HasPrefix(s, "pkg:") {
		c, _, err = core.ParsePURL(s)
	} else {
		c, err = core.ParseCoordinate(s)
	}
	if err != nil {
		return core.Coordinate{}, err
	}
	if err := c.Validate(); err != nil {
		return core.Coordinate{}, err
	}
	return c, nil
}

func printModels(cmd *cobra.Command, asJSON bool, models []*resolve.ResolvedModel) error {
	out := cmd.OutOrStdout()
	if asJSON {
		views := make([]ModelView, 0, len(models))
		for _, m := range models {
			views = append(views, modelView(m))
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(views)
	}
	for _, m := range models {
		v := modelView(m)
		from := "local"
		if v.Source != "" {
			from = v.Source
		}
		fmt.Fprintf(out, "%s\t%s\t%s\n", v.Coordinate, v.Path, from)
	}
	return nil
}
