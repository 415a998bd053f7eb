package cli

import (
	"context"

	"github.com/spf13/cobra"
)

// NewDBCmd создаёт группу команд обслуживания БД.
func NewDBCmd(migrateFn func(ctx context.Context) error, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database maintenance",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations (requires DB_URL)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := migrateFn(cmd.Context()); err != nil {
				return err
			}
			outputFn().Success("Migrations applied")
			return nil
		},
	})

	return cmd
}
