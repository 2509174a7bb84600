// Package cli implements vazanactl, the operator tool for invoice
// background jobs and offline invoice arithmetic.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/vazana/studio/internal/invoicing"
)

func newRootCmd() *cobra.Command {
	var redisAddr string
	cmd := &cobra.Command{
		Use:           "vazanactl",
		Short:         "Operate Vazana Studio invoicing",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&redisAddr, "redis", envOr("REDIS_ADDR", "127.0.0.1:6379"), "Redis address of the job queue")

	jobsCLI := func() (*JobsCLI, error) { return NewJobsCLI(redisAddr) }
	cmd.AddCommand(newTermsCmd())
	cmd.AddCommand(newTotalsCmd())
	cmd.AddCommand(newJobsCmd(jobsCLI))
	return cmd
}

// NewRootCmdForTest returns the root command for testing.
func NewRootCmdForTest() *cobra.Command {
	return newRootCmd()
}

// Execute runs the command line.
func Execute() error {
	return newRootCmd().Execute()
}

func newTermsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "terms",
		Short: "Payment terms and due dates",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List known payment terms",
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, opt := range invoicing.KnownPaymentTerms() {
				fmt.Fprintf(w, "%s\t%s\n", opt.Code, opt.Label)
			}
			return w.Flush()
		},
	})

	var today string
	due := &cobra.Command{
		Use:   "due <terms> <issue-date>",
		Short: "Resolve the due date of an invoice issued on a date (YYYY-MM-DD)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			issue, err := time.Parse(time.DateOnly, args[1])
			if err != nil {
				return fmt.Errorf("issue date: %w", err)
			}
			dueDate := invoicing.CalculatePaymentDueDate(args[0], issue)
			fmt.Fprintf(cmd.OutOrStdout(), "terms: %s\ndue: %s\n",
				invoicing.PaymentTermsDisplayText(args[0]), dueDate.Format(time.DateOnly))
			if today != "" {
				now, err := time.Parse(time.DateOnly, today)
				if err != nil {
					return fmt.Errorf("today: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "days until due: %d\n", invoicing.DaysUntil(dueDate, now))
			}
			return nil
		},
	}
	due.Flags().StringVar(&today, "today", "", "report days until due relative to this date (YYYY-MM-DD)")
	cmd.AddCommand(due)
	return cmd
}

func newTotalsCmd() *cobra.Command {
	var vat string
	cmd := &cobra.Command{
		Use:   "totals <amount>...",
		Short: "Compute subtotal, VAT and total for line amounts",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rate, err := decimal.NewFromString(vat)
			if err != nil {
				return fmt.Errorf("vat: %w", err)
			}
			amounts := make([]decimal.Decimal, 0, len(args))
			for _, arg := range args {
				d, err := decimal.NewFromString(arg)
				if err != nil {
					return fmt.Errorf("amount %q: %w", arg, err)
				}
				amounts = append(amounts, d)
			}
			totals := invoicing.CalculateTotals(amounts, rate)
			fmt.Fprintf(cmd.OutOrStdout(), "subtotal: %s\ntax: %s\ntotal: %s\n",
				totals.Subtotal.StringFixed(2), totals.Tax.StringFixed(2), totals.Total.StringFixed(2))
			return nil
		},
	}
	cmd.Flags().StringVar(&vat, "vat", invoicing.DefaultTaxRate.String(), "VAT rate as a fraction")
	return cmd
}

func newJobsCmd(open func() (*JobsCLI, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and trigger background jobs",
	}

	withJobs := func(fn func(cmd *cobra.Command, c *JobsCLI, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			c, err := open()
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()
			return fn(cmd, c, args)
		}
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "trigger <task>",
		Short: "Enqueue invoice:overdue-sweep or maintenance:idempotency-cleanup now",
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := triggerTask(args[0], time.Now())
			return err
		},
		RunE: withJobs(func(cmd *cobra.Command, c *JobsCLI, args []string) error {
			info, err := c.Trigger(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s (%s)\n", info.Type, info.ID)
			return nil
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "relink <invoice-id>",
		Short: "Queue the job-linking step of a partially created invoice",
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			_, err := parseInvoiceID(args[0])
			return err
		},
		RunE: withJobs(func(cmd *cobra.Command, c *JobsCLI, args []string) error {
			id, _ := parseInvoiceID(args[0])
			if err := c.Relink(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "link retry queued for invoice %d\n", id)
			return nil
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show queue depth",
		RunE: withJobs(func(cmd *cobra.Command, c *JobsCLI, args []string) error {
			stats, err := c.InspectQueue(cmd.Context())
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), stats)
		}),
	})

	var size int
	retrying := &cobra.Command{
		Use:   "retrying",
		Short: "List tasks waiting for retry",
		RunE: withJobs(func(cmd *cobra.Command, c *JobsCLI, args []string) error {
			tasks, err := c.ListRetry(cmd.Context(), size)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTYPE\tRETRIED\tNEXT\tLAST ERROR")
			for _, t := range tasks {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", t.ID, t.Type, t.Retried, t.NextProcessAt.Format(time.RFC3339), t.LastErr)
			}
			return w.Flush()
		}),
	}
	retrying.Flags().IntVar(&size, "size", 10, "page size")
	cmd.AddCommand(retrying)
	return cmd
}

func parseInvoiceID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid invoice id %q", raw)
	}
	return id, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
