package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/llamasoft/gorace/internal/config"
	"github.com/llamasoft/gorace/internal/driver"
	"github.com/llamasoft/gorace/internal/filter"
	"github.com/llamasoft/gorace/internal/history"
	"github.com/llamasoft/gorace/internal/parser"
	"github.com/llamasoft/gorace/internal/report"
	"github.com/llamasoft/gorace/internal/stats"
	"github.com/llamasoft/gorace/internal/types"
	"github.com/llamasoft/gorace/internal/worker"
)

var (
	flagWorkers        int
	flagTailBytes      int
	flagConnectMode    string
	flagEval           bool
	flagFakeSend       bool
	flagBarrierTimeout time.Duration
	flagReleaseDelay   time.Duration
	flagRequestTimeout time.Duration
	flagInsecure       bool
	flagProxy          string
	flagQuery          string
	flagOutput         string
	flagNoHistory      bool
	flagVerbose        bool
)

var runCmd = &cobra.Command{
	Use:   "run <plan.http>",
	Short: "Execute a race plan",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRace(cmd, args[0])
	},
}

func init() {
	runCmd.Flags().IntVarP(&flagWorkers, "workers", "n", 0, "number of parallel workers")
	runCmd.Flags().IntVar(&flagTailBytes, "tail-bytes", 0, "trailing bytes withheld until release")
	runCmd.Flags().StringVar(&flagConnectMode, "connect-mode", "", "address selection: normal, same, different, random")
	runCmd.Flags().BoolVar(&flagEval, "eval", false, "expand <<<expr>>> markers in requests")
	runCmd.Flags().BoolVar(&flagFakeSend, "fake-send", false, "serialize requests without sending them")
	runCmd.Flags().DurationVar(&flagBarrierTimeout, "barrier-timeout", 0, "upper bound for each barrier wait")
	runCmd.Flags().DurationVar(&flagReleaseDelay, "release-delay", -1, "settle pause before release opens")
	runCmd.Flags().DurationVar(&flagRequestTimeout, "request-timeout", 0, "dial and response read timeout")
	runCmd.Flags().BoolVar(&flagInsecure, "insecure", false, "skip TLS certificate verification")
	runCmd.Flags().StringVar(&flagProxy, "proxy", "", "HTTP proxy URL to tunnel through")
	runCmd.Flags().StringVarP(&flagQuery, "query", "q", "", "JMESPath query applied to response bodies")
	runCmd.Flags().StringVarP(&flagOutput, "output", "o", "text", "output format: text, json, yaml")
	runCmd.Flags().BoolVar(&flagNoHistory, "no-history", false, "do not record this run")
	runCmd.Flags().BoolVarP(&flagVerbose, "verbose", "v", false, "print response bodies")
}

func runRace(cmd *cobra.Command, planPath string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.LoadPlanOptions(planPath); err != nil {
		return err
	}

	params := cfg.Params()
	workers := cfg.Workers
	applyFlagOverrides(cmd, &params, &workers)

	requests, err := parser.ParseHTTPFile(planPath)
	if err != nil {
		return err
	}
	work := parser.WorkItems(requests)

	var manager *history.Manager
	var run *history.Run
	if cfg.IsHistoryEnabled() && !flagNoHistory && !flagFakeSend {
		manager, err = history.NewManager(cfg.GetHistoryDBPath())
		if err != nil {
			// History is best-effort; the race itself matters more.
			fmt.Fprintf(os.Stderr, "warning: history disabled: %v\n", err)
		} else {
			defer manager.Close()
			run = &history.Run{
				StartedAt:   time.Now(),
				PlanFile:    planPath,
				WorkerCount: workers,
				TailBytes:   params.TailBytes,
				ConnectMode: string(params.ConnectMode),
				Status:      "running",
			}
			if err := manager.CreateRun(run); err != nil {
				fmt.Fprintf(os.Stderr, "warning: failed to record run: %v\n", err)
				run = nil
			}
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	results, runErr := driver.New().Process(ctx, work, workers, params)
	summary := stats.Compute(results)

	if manager != nil && run != nil {
		run.Status = "completed"
		if runErr != nil {
			run.Status = "aborted"
		}
		if err := manager.FinishRun(run, results, summary); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to record results: %v\n", err)
		}
	}

	if err := renderResults(results, summary); err != nil {
		return err
	}
	return runErr
}

// applyFlagOverrides lets explicit flags win over config and sidecar
// values.
func applyFlagOverrides(cmd *cobra.Command, params *types.RaceParams, workers *int) {
	if flagWorkers > 0 {
		*workers = flagWorkers
	}
	if *workers < 1 {
		*workers = 2
	}
	if flagTailBytes != 0 {
		params.TailBytes = flagTailBytes
	}
	if flagConnectMode != "" {
		params.ConnectMode = types.ConnectMode(flagConnectMode)
	}
	if flagEval {
		params.DoEval = true
	}
	if flagFakeSend {
		params.FakeSend = true
	}
	if flagBarrierTimeout > 0 {
		params.BarrierTimeout = flagBarrierTimeout
	}
	if cmd.Flags().Changed("release-delay") && flagReleaseDelay >= 0 {
		params.ReleaseDelay = flagReleaseDelay
	}
	if flagRequestTimeout > 0 {
		params.Send.Timeout = flagRequestTimeout
	}
	if flagInsecure {
		params.Send.Insecure = true
	}
	if flagProxy != "" {
		params.Send.Proxy = flagProxy
	}
}

func renderResults(results []worker.Result, summary *stats.Summary) error {
	out := os.Stdout

	switch flagOutput {
	case "json":
		return report.RenderJSON(out, results)
	case "yaml":
		return report.RenderYAML(out, results)
	case "text":
	default:
		return fmt.Errorf("unknown output format %q", flagOutput)
	}

	if flagFakeSend {
		renderWireBytes(results)
		return nil
	}

	if flagQuery != "" {
		applyQuery(results)
	}

	report.RenderResponses(out, results, flagVerbose)
	fmt.Fprintln(out)
	report.RenderSummary(out, results, summary)
	return nil
}

// renderWireBytes prints the serialized requests of a fake-send run.
func renderWireBytes(results []worker.Result) {
	for _, res := range results {
		for _, resp := range res.Responses {
			fmt.Printf("--- worker %d position %d ---\n", res.ThreadNum, resp.Position)
			if resp.Err != nil {
				fmt.Printf("error: %v\n", resp.Err)
				continue
			}
			os.Stdout.Write(resp.Wire)
			fmt.Println()
		}
	}
}

// applyQuery replaces JSON response bodies with the query result.
func applyQuery(results []worker.Result) {
	for _, res := range results {
		for _, resp := range res.Responses {
			if resp.Err != nil || len(resp.Body) == 0 {
				continue
			}
			narrowed, err := filter.Apply(resp.Body, flagQuery)
			if err != nil {
				fmt.Fprintf(os.Stderr, "warning: worker %d position %d: %v\n",
					resp.ThreadNum, resp.Position, err)
				continue
			}
			resp.Body = []byte(narrowed)
		}
	}
}
