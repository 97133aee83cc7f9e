package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"resonate/internal/lifecycle"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect the processing job queue",
	}
	queueCmd.AddCommand(newQueueStatusCommand(ctx))
	queueCmd.AddCommand(newQueueListCommand(ctx))
	return queueCmd
}

func newQueueStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show job and asset counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withLocal(func(env *localEnv) error {
				health, err := env.store.Health(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, health)
				}
				out := cmd.OutOrStdout()
				fmt.Fprintln(out, renderTable(
					[]string{"Jobs", "Count"},
					[][]string{
						{"Ready", strconv.Itoa(health.Jobs.Ready)},
						{"Delayed", strconv.Itoa(health.Jobs.Delayed)},
						{"Leased", strconv.Itoa(health.Jobs.Leased)},
						{"Expired", strconv.Itoa(health.Jobs.Expired)},
						{"Failures", strconv.Itoa(health.Jobs.Failures)},
					},
					[]columnAlignment{alignLeft, alignRight},
				))
				color := colorEnabled(cmd)
				rows := make([][]string, 0, len(health.Assets))
				for _, state := range lifecycle.AllStates() {
					rows = append(rows, []string{stateLabel(state, color), strconv.Itoa(health.Assets[state])})
				}
				fmt.Fprintln(out, renderTable([]string{"Assets", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List outstanding jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withLocal(func(env *localEnv) error {
				jobs, err := env.store.ListJobs(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(jobs) == 0 {
					fmt.Fprintln(out, "Queue is empty")
					return nil
				}
				now := time.Now()
				rows := make([][]string, 0, len(jobs))
				for _, job := range jobs {
					state := "ready"
					switch {
					case job.Leased(now):
						state = "leased by " + job.LeasedBy
					case job.AvailableAt.After(now):
						state = "retry " + formatAge(job.AvailableAt)
					}
					rows = append(rows, []string{
						strconv.FormatInt(job.ID, 10),
						job.AssetID,
						strconv.Itoa(job.Attempt),
						state,
						orDash(job.LastError),
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"Job", "Asset", "Attempt", "State", "Last error"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignRight, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}
}
