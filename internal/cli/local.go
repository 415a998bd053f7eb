package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shaiso/orderpipe/internal/domain"
	"github.com/spf13/cobra"
)

var errLocalUnavailable = errors.New("local mode is not available")

// Runner выполняет runs в текущем процессе.
type Runner interface {
	RunNow(ctx context.Context, sourceRef string) (uuid.UUID, error)
	Resume(ctx context.Context, runID uuid.UUID) (uuid.UUID, error)
}

// RunReader читает run после выполнения.
type RunReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Run, error)
}

// StepReader читает шаги run.
type StepReader interface {
	ListByRunID(ctx context.Context, runID uuid.UUID) ([]domain.Step, error)
}

// Local — зависимости локального режима.
type Local struct {
	Runner Runner
	Runs   RunReader
	Steps  StepReader

	// Close — опционально.
	Close func() error
}

// LocalFunc подключается к БД и собирает Local.
type LocalFunc func(ctx context.Context) (*Local, error)

func newRunExecCmd(localFn LocalFunc, outputFn func() *Output) *cobra.Command {
	var source string

	cmd := &cobra.Command{
		Use:   "exec",
		Short: "Create a run and execute it in this process",
		Long: `Create a run and execute all four steps in this process.

The run is claimed by the CLI, so workers never pick it up.
Requires DB_URL. Exits non-zero if the run fails.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLocal(cmd.Context(), localFn, func(l *Local) error {
				id, err := l.Runner.RunNow(cmd.Context(), source)
				if id == uuid.Nil {
					return err
				}
				return report(cmd.Context(), l, outputFn(), id, err)
			})
		},
	}

	cmd.Flags().StringVar(&source, "source", "", "Source reference (default: SOURCE_FILE)")

	return cmd
}

func newRunResumeCmd(localFn LocalFunc, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "resume ID",
		Short: "Continue an unfinished run in this process",
		Long: `Continue an unfinished run from its first step that has not succeeded.

An unclaimed run is claimed by the CLI first; a run held by a worker is
refused. A step left in Running by a crashed process is marked failed and
the run finishes as Failed. Requires DB_URL.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid run id %q", args[0])
			}

			return withLocal(cmd.Context(), localFn, func(l *Local) error {
				_, err := l.Runner.Resume(cmd.Context(), id)
				return report(cmd.Context(), l, outputFn(), id, err)
			})
		},
	}
}

func withLocal(ctx context.Context, localFn LocalFunc, fn func(l *Local) error) error {
	if localFn == nil {
		return errLocalUnavailable
	}
	l, err := localFn(ctx)
	if err != nil {
		return err
	}
	if l.Close != nil {
		defer l.Close() //nolint:errcheck
	}
	return fn(l)
}

// report печатает итог run. Ошибка выполнения возвращается после вывода шагов.
func report(ctx context.Context, l *Local, out *Output, id uuid.UUID, runErr error) error {
	run, err := l.Runs.GetByID(ctx, id)
	if err != nil {
		if runErr != nil {
			return runErr
		}
		return err
	}
	steps, err := l.Steps.ListByRunID(ctx, id)
	if err != nil {
		if runErr != nil {
			return runErr
		}
		return err
	}

	if out.jsonMode {
		out.JSON(map[string]any{"run": run, "steps": steps})
	} else {
		out.Success(fmt.Sprintf("Run #%d %s: %s", run.Number, run.ID, run.Status))
		rows := make([][]string, len(steps))
		for i, s := range steps {
			rows[i] = []string{
				fmt.Sprint(s.Number), s.Name, string(s.Status),
				intOrDash(s.RowsAffected), progressOrDash(s.RowsProcessed, s.RowsTotal),
				strOrDash(s.ErrorMessage),
			}
		}
		out.Table(stepHeaders, rows)
	}
	return runErr
}
