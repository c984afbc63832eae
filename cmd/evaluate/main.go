// Command evaluate replays a fixed set of symptom cases against a running
// triage API and writes JSON results plus a markdown report.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

type options struct {
	apiURL  string
	timeout time.Duration
	outJSON string
	outMD   string
	strict  bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:          "evaluate",
		Short:        "Run the triage evaluation cases against an API",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvaluate(cmd.Context(), cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.apiURL, "api-url", envOr("EVAL_API_URL", "http://localhost:8080"), "base URL of the triage API")
	f.DurationVar(&opts.timeout, "timeout", 30*time.Second, "per-request timeout")
	f.StringVar(&opts.outJSON, "out-json", "evaluation_results.json", "path of the JSON results file")
	f.StringVar(&opts.outMD, "out-md", "evaluation_report.md", "path of the markdown report")
	f.BoolVar(&opts.strict, "strict", false, "exit non-zero when any case fails")
	return cmd
}

func runEvaluate(ctx context.Context, cmd *cobra.Command, opts *options) error {
	if ctx == nil {
		ctx = context.Background()
	}
	results := NewRunner(opts.apiURL, opts.timeout).RunAll(ctx, defaultCases)

	if err := writeResults(opts.outJSON, results); err != nil {
		return err
	}
	report := renderReport(results)
	if err := os.WriteFile(opts.outMD, []byte(report), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", opts.outMD, err)
	}
	fmt.Fprint(cmd.OutOrStdout(), report)

	if failed := failures(results); opts.strict && len(failed) > 0 {
		return fmt.Errorf("%d case(s) failed: %s", len(failed), strings.Join(failed, ", "))
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
