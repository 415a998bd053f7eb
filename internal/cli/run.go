package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// NewRunCmd создаёт группу команд для управления runs.
//
// trigger, list, show и logs работают через API; exec и resume
// выполняют run в текущем процессе через localFn.
func NewRunCmd(clientFn func() *Client, outputFn func() *Output, localFn LocalFunc) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Manage pipeline runs",
	}

	cmd.AddCommand(
		newRunTriggerCmd(clientFn, outputFn),
		newRunListCmd(clientFn, outputFn),
		newRunShowCmd(clientFn, outputFn),
		newRunLogsCmd(clientFn, outputFn),
		newRunExecCmd(localFn, outputFn),
		newRunResumeCmd(localFn, outputFn),
	)

	return cmd
}

func newRunTriggerCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var source string
	var file string

	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Trigger a pipeline run through the API",
		Long: `Trigger a pipeline run.

Without flags the server's default source file is used.
--source passes a path or s3:// reference the server can read.
--file uploads a local file and runs the pipeline on it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if source != "" && file != "" {
				return fmt.Errorf("--source and --file are mutually exclusive")
			}

			client := clientFn()
			out := outputFn()

			var (
				resp *TriggerResponse
				err  error
			)
			if file != "" {
				resp, err = client.Upload(file)
			} else {
				resp, err = client.Trigger(source)
			}
			if err != nil {
				return err
			}

			out.Success(resp.Message)
			out.Print(
				[]string{"RUN_ID", "NUMBER", "FILE"},
				[][]string{{resp.RunID, strconv.Itoa(resp.RunNumber), resp.File}},
				resp,
			)
			return nil
		},
	}

	cmd.Flags().StringVar(&source, "source", "", "Source reference (path or s3://bucket/key)")
	cmd.Flags().StringVar(&file, "file", "", "Local file to upload (.csv, .json, .yaml)")

	return cmd
}

func newRunListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var pipeline string
	var status string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			runs, err := client.ListRuns(ListRunsOpts{
				Pipeline: pipeline,
				Status:   status,
				Limit:    limit,
			})
			if err != nil {
				return err
			}

			headers := []string{"NUMBER", "ID", "PIPELINE", "STATUS", "SOURCE", "DURATION", "STARTED"}
			rows := make([][]string, len(runs))
			for i, r := range runs {
				rows[i] = []string{
					strconv.Itoa(r.Number), r.ID, r.PipelineName, r.Status,
					r.SourceRef, durationOrDash(r.DurationMs), r.StartedAt,
				}
			}

			out.Print(headers, rows, runs)
			return nil
		},
	}

	cmd.Flags().StringVar(&pipeline, "pipeline", "", "Filter by pipeline name")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (Running, Success, Failed)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of results")

	return cmd
}

func newRunShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show run details with steps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			run, err := client.GetRun(args[0])
			if err != nil {
				return err
			}

			if out.jsonMode {
				out.JSON(run)
				return nil
			}

			out.Success(fmt.Sprintf("Run #%d %s: %s (%s)", run.Number, run.ID, run.Status, run.SourceRef))
			out.Table(stepHeaders, stepRows(run.Steps))
			return nil
		},
	}
}

func newRunLogsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "logs ID",
		Short: "Show run log in chronological order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			logs, err := client.ListRunLogs(args[0])
			if err != nil {
				return err
			}

			out.Print(logHeaders, logRows(logs), logs)
			return nil
		},
	}
}

var stepHeaders = []string{"STEP", "NAME", "STATUS", "ROWS", "PROGRESS", "ERROR"}

func stepRows(steps []StepResponse) [][]string {
	rows := make([][]string, len(steps))
	for i, s := range steps {
		rows[i] = []string{
			strconv.Itoa(s.Number), s.Name, s.Status, intOrDash(s.RowsAffected),
			progressOrDash(s.RowsProcessed, s.RowsTotal), strOrDash(s.ErrorMessage),
		}
	}
	return rows
}

var logHeaders = []string{"TIME", "LEVEL", "STEP", "MESSAGE", "DETAILS"}

func logRows(logs []LogResponse) [][]string {
	rows := make([][]string, len(logs))
	for i, l := range logs {
		rows[i] = []string{l.LogAt, l.Level, stepLabel(l.StepNumber, l.StepName), l.Message, strOrDash(l.Details)}
	}
	return rows
}
