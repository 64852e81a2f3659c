package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	service "github.com/okian/voxmeter/internal/app"
	"github.com/okian/voxmeter/internal/domain/model"
)

func formatMinutes(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func newUsageCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "usage",
		Short: "List consumption for every identity in the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(cmd.Context(), func(svc *service.Service) error {
				summaries, err := svc.ListUsage(cmd.Context(), operator)
				if err != nil {
					return err
				}
				if len(summaries) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No usage recorded")
					return nil
				}
				rows := make([][]string, 0, len(summaries))
				for _, s := range summaries {
					override := "-"
					if s.OverrideMinutes != nil {
						override = formatMinutes(*s.OverrideMinutes)
					}
					rows = append(rows, []string{
						s.IdentityKey,
						formatMinutes(s.ConsumedMinutes),
						strconv.Itoa(s.EventCount),
						override,
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Identity", "Minutes", "Events", "Override"},
					rows,
					[]columnAlignment{alignLeft, alignRight, alignRight, alignRight},
				))
				return nil
			})
		},
	}
}

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "history <identity-key>",
		Short: "Show daily usage for an identity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(cmd.Context(), func(svc *service.Service) error {
				history, err := svc.UsageHistory(cmd.Context(), model.IdentityContext{Key: args[0]}, days)
				if err != nil {
					return err
				}
				if len(history) == 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "No usage for %s in the last %d days\n", args[0], days)
					return nil
				}
				rows := make([][]string, 0, len(history))
				for _, day := range history {
					rows = append(rows, []string{
						day.Date,
						formatMinutes(day.TotalSeconds / 60),
						strings.Join(day.SourceLabels, ", "),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Date", "Minutes", "Sources"},
					rows,
					[]columnAlignment{alignLeft, alignRight, alignLeft},
				))
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 30, "Number of days to include")
	return cmd
}

func newResetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <identity-key>",
		Short: "Reset the consumption of one identity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(cmd.Context(), func(svc *service.Service) error {
				if err := svc.ResetUsage(cmd.Context(), operator, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Reset usage for %s\n", args[0])
				return nil
			})
		},
	}
}

func newResetAllCommand(ctx *commandContext) *cobra.Command {
	var confirm bool
	cmd := &cobra.Command{
		Use:   "reset-all",
		Short: "Reset the consumption of every identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirm {
				return errors.New("reset-all needs --yes")
			}
			return ctx.withService(cmd.Context(), func(svc *service.Service) error {
				if err := svc.ResetAllUsage(cmd.Context(), operator); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Reset usage for all identities")
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&confirm, "yes", false, "Confirm resetting every identity")
	return cmd
}

func newOverrideCommand(ctx *commandContext) *cobra.Command {
	var (
		total float64
		used  float64
		clearOverride bool
	)
	cmd := &cobra.Command{
		Use:   "override <identity-key>",
		Short: "Set or clear a quota override",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			totalSet := cmd.Flags().Changed("total")
			if clearOverride == totalSet {
				return errors.New("pass exactly one of --total or --clear")
			}
			return ctx.withService(cmd.Context(), func(svc *service.Service) error {
				if clearOverride {
					if err := svc.ClearQuotaOverride(cmd.Context(), operator, args[0]); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Cleared override for %s\n", args[0])
					return nil
				}
				var usedMinutes *float64
				if cmd.Flags().Changed("used") {
					usedMinutes = &used
				}
				if err := svc.SetQuotaOverride(cmd.Context(), operator, args[0], total, usedMinutes); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Override for %s set to %s minutes\n", args[0], formatMinutes(total))
				return nil
			})
		},
	}
	cmd.Flags().Float64Var(&total, "total", 0, "Total allotment in minutes")
	cmd.Flags().Float64Var(&used, "used", 0, "Minutes already used under the override")
	cmd.Flags().BoolVar(&clearOverride, "clear", false, "Remove the override")
	return cmd
}

func newWipeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "wipe <identity-key>",
		Short: "Delete the local visitor id and the usage of an identity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withService(cmd.Context(), func(svc *service.Service) error {
				if err := svc.WipeIdentity(cmd.Context(), model.IdentityContext{Key: args[0]}); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Wiped %s\n", args[0])
				return nil
			})
		},
	}
}
