package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"resonate/internal/fileutil"
	"resonate/internal/lifecycle"
	"resonate/internal/pipeline"
	"resonate/internal/queue"
	"resonate/internal/variant"
)

func newAssetCommand(ctx *commandContext) *cobra.Command {
	assetCmd := &cobra.Command{
		Use:   "asset",
		Short: "Create, inspect, and move assets through their lifecycle",
	}

	assetCmd.AddCommand(newAssetAddCommand(ctx))
	assetCmd.AddCommand(newAssetStatusCommand(ctx))
	assetCmd.AddCommand(newAssetListCommand(ctx))
	assetCmd.AddCommand(newAssetFailuresCommand(ctx))
	assetCmd.AddCommand(newAssetFetchCommand(ctx))
	assetCmd.AddCommand(newAssetEnqueueCommand(ctx, "process", "Request variant generation", (*pipeline.Service).RequestProcessing))
	assetCmd.AddCommand(newAssetEnqueueCommand(ctx, "retry", "Retry an asset in error", (*pipeline.Service).Retry))
	assetCmd.AddCommand(newAssetTransitionCommand(ctx, "publish", "Publish a ready asset", (*pipeline.Service).Publish))
	assetCmd.AddCommand(newAssetTransitionCommand(ctx, "archive", "Archive a ready or published asset", (*pipeline.Service).Archive))
	assetCmd.AddCommand(newAssetTransitionCommand(ctx, "restore", "Restore an archived asset to ready", (*pipeline.Service).Restore))

	return assetCmd
}

func newAssetAddCommand(ctx *commandContext) *cobra.Command {
	var kind string
	var producer string
	var process bool

	cmd := &cobra.Command{
		Use:   "add <source-file>",
		Short: "Register a cover image or audio track",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read source: %w", err)
			}
			return ctx.withLocal(func(env *localEnv) error {
				if limit := env.cfg.Pipeline.MaxSourceBytes; limit > 0 && int64(len(data)) > limit {
					return fmt.Errorf("source is %s; the limit is %s", formatBytes(len(data)), formatBytes(int(limit)))
				}
				assetID, assetKind, err := createAsset(cmd.Context(), env, kind, producer, data)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Created %s asset %s (%s)\n", assetKind, assetID, formatBytes(len(data)))
				if !process {
					return nil
				}
				res, err := env.service.RequestProcessing(cmd.Context(), assetID)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Queued job %d\n", res.Job.ID)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&kind, "kind", "k", "cover", "Media kind (cover or track)")
	cmd.Flags().StringVar(&producer, "producer", "", "Producer identifier")
	cmd.Flags().BoolVar(&process, "process", false, "Queue variant generation immediately")
	return cmd
}

func createAsset(ctx context.Context, env *localEnv, kind, producer string, data []byte) (string, variant.MediaKind, error) {
	remote, err := env.remote()
	if err != nil {
		return "", "", err
	}
	if remote != nil {
		resp, err := remote.createAsset(ctx, kind, producer, data)
		if err != nil {
			return "", "", err
		}
		return resp.AssetID, resp.Kind, nil
	}
	asset, err := env.service.CreateAsset(ctx, kind, producer, data)
	if err != nil {
		return "", "", err
	}
	return asset.ID, asset.Kind, nil
}

func newAssetStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status <asset-id>",
		Short: "Show an asset's state, manifest, and delivery links",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withLocal(func(env *localEnv) error {
				status, err := env.service.GetAssetStatus(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, status)
				}
				renderAssetStatus(cmd, env, status)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func renderAssetStatus(cmd *cobra.Command, env *localEnv, status pipeline.AssetStatus) {
	color := colorEnabled(cmd)
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, renderDetails([][2]string{
		{"Asset", status.AssetID},
		{"Kind", string(status.Kind)},
		{"Producer", orDash(status.ProducerID)},
		{"Status", stateLabel(status.Status, color)},
		{"Attempts", strconv.Itoa(status.Attempts)},
		{"Updated", formatAge(status.UpdatedAt)},
		{"Error", orDash(status.ErrorSummary)},
	}))
	if len(status.Manifest) == 0 {
		return
	}

	rows := make([][]string, 0, len(status.Manifest))
	for _, entry := range status.Manifest {
		spec, _ := env.registry.Lookup(status.Kind, entry.Name)
		rows = append(rows, []string{
			entry.Name,
			string(entry.Format),
			fmt.Sprintf("%dx%d", entry.Width, entry.Height),
			formatBytes(entry.ByteSize),
			yesNo(entry.SourceLimited),
			env.links.SignedURL(status.AssetID, spec),
		})
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, renderTable(
		[]string{"Variant", "Format", "Size", "Bytes", "Source limited", "URL"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignLeft, alignLeft},
	))
}

func newAssetListCommand(ctx *commandContext) *cobra.Command {
	var statusFlags []string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List assets, optionally filtered by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			states, err := parseStates(statusFlags)
			if err != nil {
				return err
			}
			return ctx.withLocal(func(env *localEnv) error {
				assets, err := env.service.ListAssets(cmd.Context(), states...)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, assets)
				}
				out := cmd.OutOrStdout()
				if len(assets) == 0 {
					fmt.Fprintln(out, "No assets")
					return nil
				}
				color := colorEnabled(cmd)
				rows := make([][]string, 0, len(assets))
				for _, a := range assets {
					rows = append(rows, []string{
						a.AssetID,
						string(a.Kind),
						stateLabel(a.Status, color),
						strconv.Itoa(len(a.Manifest)),
						strconv.Itoa(a.Attempts),
						formatAge(a.UpdatedAt),
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"ID", "Kind", "Status", "Variants", "Attempts", "Updated"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
				))
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&statusFlags, "status", "s", nil, "Filter by status (repeatable)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func parseStates(values []string) ([]lifecycle.State, error) {
	var states []lifecycle.State
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		state, ok := lifecycle.ParseState(value)
		if !ok {
			return nil, fmt.Errorf("unknown status %q", value)
		}
		states = append(states, state)
	}
	return states, nil
}

func newAssetFailuresCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "failures <asset-id>",
		Short: "Show terminal job failures for an asset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withLocal(func(env *localEnv) error {
				if _, err := env.service.GetAssetStatus(cmd.Context(), args[0]); err != nil {
					return err
				}
				failures, err := env.service.Failures(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if len(failures) == 0 {
					fmt.Fprintln(out, "No failures recorded")
					return nil
				}
				rows := make([][]string, 0, len(failures))
				for _, f := range failures {
					rows = append(rows, []string{
						strconv.FormatInt(f.JobID, 10),
						strconv.Itoa(f.Attempt),
						formatAge(f.FailedAt),
						f.Reason,
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"Job", "Attempt", "Failed", "Reason"},
					rows,
					[]columnAlignment{alignRight, alignRight, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}
}

func newAssetFetchCommand(ctx *commandContext) *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "fetch <asset-id> <variant-file>",
		Short: "Write one stored variant to disk",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withLocal(func(env *localEnv) error {
				data, err := readVariant(cmd.Context(), env, args[0], args[1])
				if err != nil {
					return err
				}
				target := strings.TrimSpace(outputPath)
				if target == "" {
					target = filepath.Base(args[1])
				}
				if err := fileutil.WriteFileAtomic(target, data, 0o644); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s to %s\n", formatBytes(len(data)), target)
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Destination file (defaults to the variant file name)")
	return cmd
}

func readVariant(ctx context.Context, env *localEnv, assetID, fileName string) ([]byte, error) {
	remote, err := env.remote()
	if err != nil {
		return nil, err
	}
	if remote == nil {
		data, _, err := env.service.Variant(ctx, assetID, fileName)
		return data, err
	}
	spec, ok := env.registry.LookupFile(fileName)
	if !ok {
		return nil, fmt.Errorf("unknown variant file %q", fileName)
	}
	return remote.fetchVariant(ctx, assetID, spec)
}

func newAssetEnqueueCommand(ctx *commandContext, use, short string, fn func(*pipeline.Service, context.Context, string) (*queue.EnqueueResult, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <asset-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withLocal(func(env *localEnv) error {
				res, err := fn(env.service, cmd.Context(), args[0])
				if err != nil {
					return describeTransitionError(err)
				}
				out := cmd.OutOrStdout()
				if res.Superseded {
					fmt.Fprintf(out, "Queued job %d for %s (replaced an outstanding job)\n", res.Job.ID, args[0])
					return nil
				}
				fmt.Fprintf(out, "Queued job %d for %s\n", res.Job.ID, args[0])
				return nil
			})
		},
	}
}

func newAssetTransitionCommand(ctx *commandContext, use, short string, fn func(*pipeline.Service, context.Context, string) (pipeline.AssetStatus, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <asset-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withLocal(func(env *localEnv) error {
				status, err := fn(env.service, cmd.Context(), args[0])
				if err != nil {
					return describeTransitionError(err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Asset %s is now %s\n", status.AssetID, status.Status)
				return nil
			})
		},
	}
}

func describeTransitionError(err error) error {
	var invalid *lifecycle.InvalidTransitionError
	if errors.As(err, &invalid) {
		return fmt.Errorf("asset is %s; %s is not allowed from that state", invalid.From, invalid.Event)
	}
	return err
}
