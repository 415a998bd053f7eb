package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewLogsCmd создаёт команду просмотра журнала pipeline.
func NewLogsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var opts ListLogsOpts

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show pipeline log events, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			logs, err := client.ListLogs(opts)
			if err != nil {
				return err
			}

			out.Print(logHeaders, logRows(logs), logs)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.RunID, "run", "", "Filter by run ID")
	cmd.Flags().StringVar(&opts.Pipeline, "pipeline", "", "Filter by pipeline name")
	cmd.Flags().StringVar(&opts.Level, "level", "", "Filter by level (Info, Warning, Error)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "Maximum number of results")

	return cmd
}

// NewTargetCmd создаёт команду просмотра заказа в целевой таблице.
func NewTargetCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "target ORDER_ID",
		Short: "Show a migrated order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			t, err := client.GetTarget(args[0])
			if err != nil {
				return err
			}

			out.Print(
				[]string{"ORDER_ID", "CUSTOMER_ID", "AMOUNT", "DATE", "CATEGORY", "MIGRATED"},
				[][]string{{
					t.OrderID, t.CustomerID, fmt.Sprintf("%.2f", t.Amount),
					strOrDash(t.OrderDate), t.AmountCategory, t.MigratedAt,
				}},
				t,
			)
			return nil
		},
	}
}
