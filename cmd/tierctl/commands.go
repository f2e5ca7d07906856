package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Arwindpianist/sunrise-2025-sub000/internal/apiclient"
	"github.com/Arwindpianist/sunrise-2025-sub000/internal/limits"
	"github.com/Arwindpianist/sunrise-2025-sub000/internal/proration"
	"github.com/Arwindpianist/sunrise-2025-sub000/internal/tiers"
)

const defaultServer = "http://localhost:18111"

func newRootCmd() *cobra.Command {
	var server string

	root := &cobra.Command{
		Use:          "tierctl",
		Short:        "Inspect tiers, quotas and token policy",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&server, "server", envOr("TIERCTL_SERVER", defaultServer), "policy service base URL")

	client := func() *apiclient.Client { return apiclient.New(server, nil) }

	root.AddCommand(
		newCatalogCmd(),
		newProrationCmd(),
		newLimitsCmd(client),
		newTokensCmd(client),
		newCapabilityCmd(client),
		newPurchaseCheckCmd(client),
		newPlanPreviewCmd(client),
	)
	return root
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func quota(v int) string {
	if tiers.IsUnlimited(v) {
		return "Unlimited"
	}
	return strconv.Itoa(v)
}

func newCatalogCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "catalog",
		Short: "Print the tier catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "TIER\tPRICE\tTOKEN\tMAX TOKENS\tCONTACTS\tEVENTS\tMONTHLY TOKENS\tTELEGRAM\tAPI")
			for _, e := range tiers.Catalog() {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%d\t%t\t%t\n",
					e.Tier.DisplayName(), e.MonthlyPrice, e.TokenPrice,
					quota(e.MaxTokens), quota(e.MaxContacts), quota(e.MaxEvents),
					e.MonthlyTokens, e.CanUseTelegram, e.CanUseAPI)
			}
			return tw.Flush()
		},
	}
}

func newProrationCmd() *cobra.Command {
	var from, to, start, end, date string

	cmd := &cobra.Command{
		Use:   "proration",
		Short: "Price a plan change offline",
		Example: `  tierctl proration --from basic --to pro --start 2025-03-01 --end 2025-04-01 --date 2025-03-17`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fromTier, err := tiers.Parse(from)
			if err != nil {
				return err
			}
			toTier, err := tiers.Parse(to)
			if err != nil {
				return err
			}
			changeDate := time.Now().UTC()
			if date != "" {
				if changeDate, err = proration.ParseTime(date); err != nil {
					return err
				}
			}
			info, err := proration.PlanChangeFromISO(fromTier, toTier, start, end, changeDate)
			if err != nil {
				return err
			}
			printPlanChange(cmd.OutOrStdout(), info, proration.Format(info.Proration))
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "current tier")
	cmd.Flags().StringVar(&to, "to", "", "target tier")
	cmd.Flags().StringVar(&start, "start", "", "billing period start (RFC 3339 or YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end", "", "billing period end (RFC 3339 or YYYY-MM-DD)")
	cmd.Flags().StringVar(&date, "date", "", "change date (default now)")
	for _, name := range []string{"from", "to", "start", "end"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func printPlanChange(w io.Writer, info proration.PlanChangeInfo, summary string) {
	direction := "downgrade"
	if info.IsUpgrade {
		direction = "upgrade"
	}
	fmt.Fprintf(w, "%s -> %s (%s)\n", info.FromTier.DisplayName(), info.ToTier.DisplayName(), direction)
	fmt.Fprintln(w, summary)
	fmt.Fprintf(w, "prorated tokens: %d\n", info.ProratedTokens)
	fmt.Fprintf(w, "prorated amount: %s\n", info.ProratedAmount)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newLimitsCmd(client func() *apiclient.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "limits <user-id>",
		Short: "Show a user's quotas",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := client().Limits(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

func newTokensCmd(client func() *apiclient.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "tokens <user-id>",
		Short: "Show a user's token balance and ceilings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := client().Tokens(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "tier: %s\n", st.Tier.DisplayName())
			fmt.Fprintf(w, "balance: %d / %s\n", st.Balance, quota(st.Ceilings.BalanceCap))
			fmt.Fprintf(w, "purchased: %d / %s\n", st.TotalTokensPurchased, quota(st.Ceilings.LifetimePurchaseCap))
			fmt.Fprintf(w, "can buy: %t\n", st.CanBuyTokens)
			if st.LimitInfo.RecommendedUpgrade != "" {
				fmt.Fprintf(w, "recommended upgrade: %s\n", st.LimitInfo.RecommendedUpgrade.DisplayName())
			}
			return nil
		},
	}
}

func newCapabilityCmd(client func() *apiclient.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "capability <user-id> <action>",
		Short: "Check whether a user's tier grants an action",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			action := limits.Action(args[1])
			if !action.Valid() {
				return fmt.Errorf("unknown action %q", args[1])
			}
			c, err := client().Capability(cmd.Context(), args[0], action)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%s on %s: allowed=%t\n", c.Action, c.Tier.DisplayName(), c.Allowed)
			if c.Upgrade != nil {
				fmt.Fprintf(w, "upgrade to %s: %s\n", c.Upgrade.Recommended.DisplayName(), c.Upgrade.Reason)
			}
			return nil
		},
	}
}

func newPurchaseCheckCmd(client func() *apiclient.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "purchase-check <user-id> <amount>",
		Short: "Evaluate a token purchase without buying",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := strconv.Atoi(args[1])
			if err != nil || amount <= 0 {
				return fmt.Errorf("amount must be a positive integer, got %q", args[1])
			}
			pc, err := client().PurchaseCheck(cmd.Context(), args[0], amount)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), pc)
		},
	}
}

func newPlanPreviewCmd(client func() *apiclient.Client) *cobra.Command {
	var date string
	cmd := &cobra.Command{
		Use:   "plan-preview <user-id> <tier>",
		Short: "Price a plan change against a user's billing period",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			to, err := tiers.Parse(args[1])
			if err != nil {
				return err
			}
			var changeDate time.Time
			if date != "" {
				if changeDate, err = proration.ParseTime(date); err != nil {
					return err
				}
			}
			p, err := client().PreviewPlanChange(cmd.Context(), args[0], to, changeDate)
			if err != nil {
				return err
			}
			printPlanChange(cmd.OutOrStdout(), p.Change, p.Summary)
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "change date (default now on the server)")
	return cmd
}
