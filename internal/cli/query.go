package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/abelzeko/water-balance/internal/app"
	"github.com/abelzeko/water-balance/internal/entities"
	"github.com/abelzeko/water-balance/internal/logging"
	"github.com/abelzeko/water-balance/internal/usecases"
)

// queryCommand creates the query command.
func (c *CLI) queryCommand() *cobra.Command {
	var format string
	var refresh bool

	cmd := &cobra.Command{
		Use:   "query <group> <date>",
		Short: "Fetch the raw water-balance report for a group and date",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			format = strings.ToLower(format)
			if format != "json" && format != "yaml" {
				return fmt.Errorf("unsupported format %q (use json or yaml)", format)
			}

			a, q, err := c.prepareQuery(cmd, args)
			if err != nil {
				return err
			}
			defer a.Close()

			progress := logging.NewProgress(a.Logger)
			resp, cached, err := a.UseCase.GetWaterBalance(cmd.Context(), q, refresh)
			if err != nil {
				return err
			}
			progress.Done(fmt.Sprintf("Fetched %d items (%s)", len(resp.Data), cacheLabel(cached)))

			return writeResponse(cmd.OutOrStdout(), resp, format)
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "json", "output format: json or yaml")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "bypass the snapshot cache")
	return cmd
}

// treemapCommand creates the treemap command.
func (c *CLI) treemapCommand() *cobra.Command {
	var output string
	var refresh bool

	cmd := &cobra.Command{
		Use:   "treemap <group> <date>",
		Short: "Convert a report into treemap chart data (JSON)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, q, err := c.prepareQuery(cmd, args)
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.UseCase.BuildTreemap(cmd.Context(), q, refresh)
			if err != nil {
				return err
			}

			data, err := json.MarshalIndent(result.Tree, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to encode treemap: %w", err)
			}

			if output == "" {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return err
			}
			if err := os.WriteFile(output, append(data, '\n'), 0o644); err != nil {
				return fmt.Errorf("failed to write %s: %w", output, err)
			}
			w := cmd.OutOrStdout()
			printSuccess(w, "Treemap with %d nodes (%s)", result.Summary.Nodes, cacheLabel(result.Cached))
			printFile(w, output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "write JSON to a file instead of stdout")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "bypass the snapshot cache")
	return cmd
}

// debugCommand creates the debug command.
func (c *CLI) debugCommand() *cobra.Command {
	var refresh bool

	cmd := &cobra.Command{
		Use:   "debug <group> <date>",
		Short: "Print an indented listing of the treemap and flag imbalanced nodes",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, q, err := c.prepareQuery(cmd, args)
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.UseCase.BuildTreemap(cmd.Context(), q, refresh)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprint(w, a.UseCase.FormatTreemap(result.Tree))
			fmt.Fprintln(w)

			s := result.Summary
			printKeyValue(w, "Nodes", fmt.Sprint(s.Nodes))
			printKeyValue(w, "Depth", fmt.Sprint(s.Depth))
			printKeyValue(w, "Total volume", s.TotalVolume.String())
			if len(s.Imbalances) == 0 {
				printSuccess(w, "Every parent matches the sum of its children")
				return nil
			}
			for _, im := range s.Imbalances {
				printWarning(w, "%s: %s vs children %s (diff %s)",
					im.Name, im.Value.String(), im.ChildrenSum.String(), im.Difference().String())
				printDetail(w, "%s", im.Path)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&refresh, "refresh", false, "bypass the snapshot cache")
	return cmd
}

// refreshCommand creates the refresh command.
func (c *CLI) refreshCommand() *cobra.Command {
	var date string

	cmd := &cobra.Command{
		Use:   "refresh [group...]",
		Short: "Refetch reports into the snapshot cache and prune old snapshots",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := c.openApp()
			if err != nil {
				return err
			}
			defer a.Close()

			if !a.Config.Cache.Enabled {
				return fmt.Errorf("snapshot cache is disabled")
			}
			if err := a.Authenticate(cmd.Context()); err != nil {
				return err
			}

			groups := args
			if len(groups) == 0 {
				groups = a.Config.Refresh.Groups
			}
			if len(groups) == 0 {
				return fmt.Errorf("no groups given and none configured (WATERBALANCE_GROUPS)")
			}
			if date == "" {
				date = a.UseCase.Today(a.Config.Refresh.StatDateLayout)
			}

			w := cmd.OutOrStdout()
			refreshErr := a.UseCase.RefreshSnapshots(cmd.Context(), groups, date)
			pruned, err := a.UseCase.PruneSnapshots(a.Config.Cache.RetentionDuration())
			if err != nil {
				printWarning(w, "Pruning failed: %v", err)
			}
			if refreshErr != nil {
				return refreshErr
			}
			printSuccess(w, "Refreshed %d groups for %s", len(groups), date)
			printDetail(w, "Pruned %d old snapshots", pruned)
			return nil
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "stat date to refresh (default today)")
	return cmd
}

// prepareQuery wires the app, authenticates and validates the positional
// group and date arguments.
func (c *CLI) prepareQuery(cmd *cobra.Command, args []string) (*app.App, entities.WaterBalanceQuery, error) {
	q := entities.WaterBalanceQuery{GroupName: args[0], StatDate: args[1]}
	if err := usecases.ValidateQuery(q); err != nil {
		return nil, q, err
	}

	a, err := c.openApp()
	if err != nil {
		return nil, q, err
	}
	if err := a.Authenticate(cmd.Context()); err != nil {
		a.Close()
		return nil, q, err
	}
	return a, q, nil
}

// writeResponse prints resp as indented JSON or YAML. YAML keys follow the
// JSON field names.
func writeResponse(w io.Writer, resp *entities.WaterBalanceResponse, format string) error {
	data, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode response: %w", err)
	}
	if format == "json" {
		_, err = fmt.Fprintln(w, string(data))
		return err
	}

	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return fmt.Errorf("failed to convert response: %w", err)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(generic); err != nil {
		return fmt.Errorf("failed to encode yaml: %w", err)
	}
	return enc.Close()
}

func cacheLabel(cached bool) string {
	if cached {
		return "cached"
	}
	return "fresh"
}
