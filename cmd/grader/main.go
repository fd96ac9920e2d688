// Command grader builds the question bank and grades answer files offline.
//
//	grader index --dataset questions.csv
//	grader evaluate --in answers.xlsx --out graded.xlsx [--label week-3] [--subject biology]
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/noah-isme/gema-grader/internal/batchio"
	"github.com/noah-isme/gema-grader/internal/bootstrap"
	"github.com/noah-isme/gema-grader/internal/config"
	"github.com/noah-isme/gema-grader/internal/models"
	"github.com/noah-isme/gema-grader/internal/service"
)

const usage = `usage: grader <command> [flags]

commands:
  index     --dataset <file>            replace the question bank with a CSV/XLSX dataset
  evaluate  --in <file> --out <file>    grade an answer file and write the results
            [--label <name>] [--subject <name>]
`

var errUsage = errors.New("invalid usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, errUsage) || errors.Is(err, pflag.ErrHelp) {
			fmt.Fprint(os.Stderr, usage)
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "grader: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}

	switch args[0] {
	case "index":
		return runIndex(ctx, args[1:], stdout, stderr)
	case "evaluate":
		return runEvaluate(ctx, args[1:], stdout, stderr)
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
		return nil
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, args[0])
	}
}

func runIndex(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	flags := pflag.NewFlagSet("index", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	dataset := flags.String("dataset", "", "CSV or XLSX file with question and correct_answer columns")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *dataset == "" {
		return fmt.Errorf("%w: --dataset is required", errUsage)
	}

	payload, err := os.ReadFile(*dataset)
	if err != nil {
		return fmt.Errorf("read dataset: %w", err)
	}

	rt, err := openRuntime(ctx, stderr)
	if err != nil {
		return err
	}
	defer rt.Close()

	result, err := rt.Questions.ImportFile(ctx, *dataset, payload)
	if err != nil {
		return fmt.Errorf("index dataset: %w", err)
	}

	fmt.Fprintf(stdout, "indexed %d questions (dimension %d, model %s)\n", result.Total, result.Dimension, result.EmbeddingModel)
	return nil
}

func runEvaluate(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	flags := pflag.NewFlagSet("evaluate", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	in := flags.String("in", "", "CSV or XLSX file with question_id or question, and student_answer columns")
	out := flags.String("out", "", "result file; the extension selects CSV or XLSX")
	label := flags.String("label", "", "label stored with the grading run")
	subject := flags.String("subject", "", "subject stored with the grading run")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *in == "" || *out == "" {
		return fmt.Errorf("%w: --in and --out are required", errUsage)
	}

	inFormat, err := batchio.FormatFromPath(*in)
	if err != nil {
		return err
	}
	outFormat, err := batchio.FormatFromPath(*out)
	if err != nil {
		return err
	}

	file, err := os.Open(*in)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	pairs, err := batchio.ReadPairs(file, inFormat)
	file.Close()
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	rt, err := openRuntime(ctx, stderr)
	if err != nil {
		return err
	}
	defer rt.Close()

	run, err := rt.Grading.Evaluate(ctx, service.RunInfo{Source: models.GradingRunSourceCLI, Label: *label, Subject: *subject}, pairs)
	if err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}

	payload, err := rt.Grading.ExportRun(ctx, run.ID, outFormat)
	if err != nil {
		return fmt.Errorf("export results: %w", err)
	}
	if err := os.WriteFile(*out, payload, 0o644); err != nil {
		return fmt.Errorf("write results: %w", err)
	}

	fmt.Fprintf(stdout, "run %d: graded %d items (%d failed, %d unresolved), average mark %.2f -> %s\n",
		run.ID, run.TotalItems, run.FailedItems, run.UnresolvedItems, run.AverageMark, *out)
	return nil
}

func openRuntime(ctx context.Context, logOutput io.Writer) (*bootstrap.Runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	return bootstrap.New(ctx, cfg, bootstrap.NewLogger(cfg, logOutput))
}
