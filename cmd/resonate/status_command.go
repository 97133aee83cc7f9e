package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"resonate/internal/preflight"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Run preflight checks and report database health",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withLocal(func(env *localEnv) error {
				color := colorEnabled(cmd)
				out := cmd.OutOrStdout()

				results := preflight.RunAll(cmd.Context(), env.cfg)
				rows := make([][]string, 0, len(results))
				for _, r := range results {
					rows = append(rows, []string{r.Name, passLabel(r.Passed, color), r.Detail})
				}
				fmt.Fprintln(out, renderTable([]string{"Check", "Result", "Detail"}, rows, nil))

				health, err := env.store.CheckHealth(cmd.Context())
				details := [][2]string{
					{"Database", health.DBPath},
					{"Readable", yesNo(health.DatabaseReadable)},
					{"Schema version", strconv.Itoa(health.SchemaVersion)},
					{"Integrity", yesNo(health.IntegrityCheck)},
					{"Jobs", strconv.Itoa(health.TotalJobs)},
					{"Assets", strconv.Itoa(health.TotalAssets)},
					{"Blob backend", env.cfg.Blob.Backend},
					{"API bind", orDash(env.cfg.Paths.APIBind)},
				}
				fmt.Fprintln(out)
				fmt.Fprintln(out, renderDetails(details))
				if err != nil {
					return fmt.Errorf("database health: %w", err)
				}
				if failed := preflight.Failed(results); len(failed) > 0 {
					return fmt.Errorf("%d preflight check(s) failed", len(failed))
				}
				return nil
			})
		},
	}
}
