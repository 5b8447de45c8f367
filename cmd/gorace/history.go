package main

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/llamasoft/gorace/internal/config"
	"github.com/llamasoft/gorace/internal/history"
)

var flagHistoryLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded race runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		return listRuns()
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show the per-worker results of one run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid run id %q", args[0])
		}
		return showRun(id)
	},
}

func init() {
	historyCmd.AddCommand(historyShowCmd)
	historyCmd.Flags().IntVar(&flagHistoryLimit, "limit", 20, "maximum runs to list")
}

func openHistory() (*history.Manager, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return history.NewManager(cfg.GetHistoryDBPath())
}

func listRuns() error {
	manager, err := openHistory()
	if err != nil {
		return err
	}
	defer manager.Close()

	runs, err := manager.ListRuns(flagHistoryLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no recorded runs")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTARTED\tPLAN\tWORKERS\tMODE\tSTATUS\tOK\tFAIL\tSPREAD")
	for _, run := range runs {
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\t%s\t%d\t%d\t%s\n",
			run.ID,
			run.StartedAt.Local().Format("2006-01-02 15:04:05"),
			run.PlanFile,
			run.WorkerCount,
			run.ConnectMode,
			run.Status,
			run.Successes,
			run.Errors,
			time.Duration(run.SpreadNs).Round(time.Microsecond),
		)
	}
	return w.Flush()
}

func showRun(id int64) error {
	manager, err := openHistory()
	if err != nil {
		return err
	}
	defer manager.Close()

	run, err := manager.GetRun(id)
	if err != nil {
		return err
	}
	rows, err := manager.GetResults(id)
	if err != nil {
		return err
	}

	fmt.Printf("run %d: %s, %d workers, tail %d, mode %s, status %s\n\n",
		run.ID, run.PlanFile, run.WorkerCount, run.TailBytes, run.ConnectMode, run.Status)

	w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "POS\tWORKER\tMETHOD\tURL\tSTATUS\tPEER\tRELEASE->FIRSTBYTE\tERROR")
	for _, row := range rows {
		latency := ""
		if row.ReleaseNs > 0 && row.FirstByteNs > row.ReleaseNs {
			latency = time.Duration(row.FirstByteNs - row.ReleaseNs).Round(time.Microsecond).String()
		}
		fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%d\t%s\t%s\t%s\n",
			row.Position, row.ThreadNum, row.Method, row.URL,
			row.StatusCode, row.RemoteAddr, latency, row.ErrorMessage)
	}
	return w.Flush()
}
