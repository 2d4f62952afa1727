package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/iho/cryptoledger/internal/adapter/http/dto"
	"github.com/iho/cryptoledger/internal/infrastructure/auth"
	"github.com/iho/cryptoledger/internal/infrastructure/postgres"
)

type rootOptions struct {
	baseURL string
	userID  string
	token   string
	timeout time.Duration
	asJSON  bool
}

func (o *rootOptions) client() *client {
	return newClient(strings.TrimRight(o.baseURL, "/"), o.userID, o.token, o.timeout)
}

// Migration runners, replaced in tests.
var (
	migrateUp   = postgres.RunMigrations
	migrateDown = postgres.RunMigrationsDown
)

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:           "cryptoledger-cli",
		Short:         "CryptoLedger CLI tool",
		Long:          `A command line interface for interacting with the CryptoLedger API.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.baseURL, "url", "http://localhost:8080", "Base URL of the CryptoLedger API")
	rootCmd.PersistentFlags().StringVar(&opts.userID, "user", "", "User id sent as X-User-ID")
	rootCmd.PersistentFlags().StringVar(&opts.token, "token", "", "Bearer token, overrides --user")
	rootCmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "Request timeout")
	rootCmd.PersistentFlags().BoolVar(&opts.asJSON, "json", false, "Print raw JSON responses")

	rootCmd.AddCommand(
		newBalanceCmd(opts),
		newHistoryCmd(opts),
		newOperationCmd(opts, "deposit", "Deposit funds", "/api/v1/deposit"),
		newOperationCmd(opts, "withdraw", "Withdraw funds, including the withdrawal fee", "/api/v1/withdraw"),
		newTransferCmd(opts),
		newConsistencyCmd(opts),
		newTokenCmd(),
		newMigrateCmd(),
	)

	return rootCmd
}

func newBalanceCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "balance [currency]",
		Short: "Show balances",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := opts.client()

			var balances []*dto.BalanceResponse
			if len(args) == 1 {
				var b dto.BalanceResponse
				if err := c.do(cmd.Context(), http.MethodGet, "/api/v1/balances/"+url.PathEscape(args[0]), nil, nil, nil, &b); err != nil {
					return err
				}
				balances = append(balances, &b)
			} else {
				var list dto.BalancesResponse
				if err := c.do(cmd.Context(), http.MethodGet, "/api/v1/balances", nil, nil, nil, &list); err != nil {
					return err
				}
				balances = list.Balances
			}

			if opts.asJSON {
				return printJSON(cmd.OutOrStdout(), balances)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CURRENCY\tTOTAL\tRESERVED\tAVAILABLE")
			for _, b := range balances {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", b.Currency, b.Balance, b.Reserved, b.Available)
			}
			return tw.Flush()
		},
	}
}

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var (
		currency string
		kind     string
		limit    int
		offset   int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List ledger entries, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			query := url.Values{}
			if currency != "" {
				query.Set("currency", currency)
			}
			if kind != "" {
				query.Set("type", kind)
			}
			query.Set("limit", strconv.Itoa(limit))
			query.Set("offset", strconv.Itoa(offset))

			var page dto.EntriesResponse
			if err := opts.client().do(cmd.Context(), http.MethodGet, "/api/v1/transactions", query, nil, nil, &page); err != nil {
				return err
			}

			if opts.asJSON {
				return printJSON(cmd.OutOrStdout(), page)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTYPE\tAMOUNT\tCURRENCY\tBALANCE AFTER\tSTATUS\tDESCRIPTION")
			for _, e := range page.Transactions {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
					e.ID, e.Type, e.Amount, e.Currency, e.BalanceAfter, e.Status, truncate(e.Description, 32))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&currency, "currency", "", "Filter by currency")
	cmd.Flags().StringVar(&kind, "type", "", "Filter by entry type")
	cmd.Flags().IntVar(&limit, "limit", 50, "Page size")
	cmd.Flags().IntVar(&offset, "offset", 0, "Page offset")

	return cmd
}

func newOperationCmd(opts *rootOptions, use, short, path string) *cobra.Command {
	var key, description string

	cmd := &cobra.Command{
		Use:   use + " <amount> <currency>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := dto.BalanceOperationRequest{
				Amount:      args[0],
				Currency:    args[1],
				Description: description,
			}
			return runOperation(cmd, opts, path, idempotencyKey(key), req)
		},
	}

	cmd.Flags().StringVar(&key, "key", "", "Idempotency key (random when empty)")
	cmd.Flags().StringVar(&description, "description", "", "Entry description")

	return cmd
}

func newTransferCmd(opts *rootOptions) *cobra.Command {
	var key, description string

	cmd := &cobra.Command{
		Use:   "transfer <to-user> <amount> <currency>",
		Short: "Transfer funds to another user",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			to, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid user id %q", args[0])
			}

			req := dto.TransferRequest{
				ToUserID:    to,
				Amount:      args[1],
				Currency:    args[2],
				Description: description,
			}
			return runOperation(cmd, opts, "/api/v1/transfer", idempotencyKey(key), req)
		},
	}

	cmd.Flags().StringVar(&key, "key", "", "Idempotency key (random when empty)")
	cmd.Flags().StringVar(&description, "description", "", "Entry description")

	return cmd
}

func runOperation(cmd *cobra.Command, opts *rootOptions, path, key string, body any) error {
	var result dto.OperationResponse
	headers := map[string]string{"Idempotency-Key": key}

	if err := opts.client().do(cmd.Context(), http.MethodPost, path, nil, headers, body, &result); err != nil {
		return err
	}

	if opts.asJSON {
		return printJSON(cmd.OutOrStdout(), result)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s\n", result.Message)
	fmt.Fprintf(out, "Transaction: %s\n", result.TransactionID)
	fmt.Fprintf(out, "Idempotency key: %s\n", key)
	fmt.Fprintf(out, "Balance: %s %s (available %s)\n", result.Balance, result.Currency, result.Available)
	if result.Fee != "" {
		fmt.Fprintf(out, "Fee: %s\n", result.Fee)
	}
	return nil
}

func newConsistencyCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "consistency",
		Short: "Check ledger consistency",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var report dto.ConsistencyResponse
			err := opts.client().do(cmd.Context(), http.MethodGet, "/api/v1/ledger/consistency", nil, nil, nil, &report)

			var apiErr *apiError
			if err != nil && !(errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict) {
				return err
			}

			if opts.asJSON {
				if err := printJSON(cmd.OutOrStdout(), report); err != nil {
					return err
				}
			} else {
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Checked %d balances\n", report.Checked)
				for _, issue := range report.Issues {
					fmt.Fprintf(out, "  balance %d (user %d, %s): %s\n", issue.BalanceID, issue.UserID, issue.Currency, issue.Reason)
				}
			}

			if !report.Consistent {
				return errors.New("consistency check FAILED")
			}

			fmt.Fprintln(cmd.OutOrStdout(), "Consistency check PASSED")
			return nil
		},
	}
}

func newTokenCmd() *cobra.Command {
	var (
		secret string
		ttl    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Issue a bearer token for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				return errors.New("--secret is required")
			}

			userID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid user id %q", args[0])
			}

			token, err := auth.NewJWTManager(secret, ttl).Generate(userID)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&secret, "secret", "", "JWT signing secret")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")

	return cmd
}

func newMigrateCmd() *cobra.Command {
	var databaseURL, path string

	cmd := &cobra.Command{
		Use:       "migrate <up|down>",
		Short:     "Apply or roll back database migrations",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if databaseURL == "" {
				return errors.New("--database-url is required")
			}

			logger := zerolog.New(cmd.ErrOrStderr()).With().Timestamp().Logger()

			run := migrateUp
			if args[0] == "down" {
				run = migrateDown
			}

			return run(databaseURL, path, logger)
		},
	}

	cmd.Flags().StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL")
	cmd.Flags().StringVar(&path, "path", "migrations", "Migrations directory")

	return cmd
}

func idempotencyKey(key string) string {
	if key != "" {
		return key
	}
	return uuid.NewString()
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
