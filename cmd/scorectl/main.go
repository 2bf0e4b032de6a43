// Command scorectl drives the scoring engine from the shell: score one task, score a batch,
// archive a score or print the active templates. Output is JSON on stdout.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/noah-isme/teaching-eval-scoring/internal/bootstrap"
	"github.com/noah-isme/teaching-eval-scoring/internal/config"
	"github.com/noah-isme/teaching-eval-scoring/internal/dto"
	"github.com/noah-isme/teaching-eval-scoring/internal/scoring"
)

const (
	exitOK          = 0
	exitFailure     = 1
	exitConfig      = 2
	exitUnreachable = 3
)

const usage = `usage: scorectl [flags] <command> [args]

commands:
  score <task_id>          score one task (--bonus label=points, repeatable)
  batch <task_id>...       score several tasks, results in input order
  archive <task_id>        archive the current score of a task
  templates                print the active scoring templates

flags:
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

type options struct {
	configFile string
	actor      string
	bonus      []string
	verbose    bool
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	var opts options
	flags := pflag.NewFlagSet("scorectl", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.StringVarP(&opts.configFile, "config", "c", "", "config file (yaml, json, toml or .env)")
	flags.StringVar(&opts.actor, "actor", "scorectl", "user id recorded as the actor")
	flags.StringArrayVarP(&opts.bonus, "bonus", "b", nil, "bonus item as label=points (score only)")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "log engine activity to stderr")
	flags.Usage = func() {
		fmt.Fprint(stderr, usage)
		flags.PrintDefaults()
	}

	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		return exitConfig
	}

	rest := flags.Args()
	if len(rest) == 0 {
		flags.Usage()
		return exitConfig
	}
	command, operands := rest[0], rest[1:]
	if err := checkArity(command, operands); err != nil {
		fmt.Fprintln(stderr, "scorectl:", err)
		flags.Usage()
		return exitConfig
	}
	bonusItems, err := parseBonus(opts.bonus)
	if err != nil {
		fmt.Fprintln(stderr, "scorectl:", err)
		return exitConfig
	}

	logger := zerolog.Nop()
	if opts.verbose {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: stderr, TimeFormat: time.TimeOnly}).With().Timestamp().Logger()
	}

	cfg, err := config.LoadWith(config.Options{File: opts.configFile, SkipJWT: true})
	if err != nil {
		fmt.Fprintln(stderr, "scorectl:", err)
		return exitConfig
	}

	rt, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintln(stderr, "scorectl:", err)
		switch {
		case errors.Is(err, config.ErrInvalid):
			return exitConfig
		case errors.Is(err, bootstrap.ErrUnreachable):
			return exitUnreachable
		default:
			return exitFailure
		}
	}
	defer rt.Close()

	actor := scoring.Principal{UserID: opts.actor, Role: scoring.RoleAdmin}
	encoder := json.NewEncoder(stdout)
	encoder.SetIndent("", "  ")

	var (
		output interface{}
		failed int
	)
	switch command {
	case "score":
		var result scoring.Result
		if result, err = rt.Scoring.ScoreTask(ctx, operands[0], bonusItems, actor); err == nil {
			output = result
		}
	case "batch":
		var response dto.BatchScoreResponse
		if response, err = rt.Scoring.ScoreBatchByID(ctx, operands, actor); err == nil {
			output = response
			failed = response.Failed
		}
	case "archive":
		var archived dto.ArchivedScoreDetailResponse
		if archived, err = rt.Records.Archive(ctx, operands[0], actor); err == nil {
			output = archived
		}
	case "templates":
		var templates []dto.TemplateResponse
		if templates, err = activeTemplates(ctx, rt); err == nil {
			output = templates
		}
	}

	if err != nil {
		reportError(stderr, err)
		return exitFailure
	}
	if err := encoder.Encode(output); err != nil {
		fmt.Fprintln(stderr, "scorectl:", err)
		return exitFailure
	}
	if failed > 0 {
		fmt.Fprintf(stderr, "scorectl: %d of %d tasks failed\n", failed, len(operands))
		return exitFailure
	}
	return exitOK
}

func checkArity(command string, operands []string) error {
	switch command {
	case "score", "archive":
		if len(operands) != 1 {
			return fmt.Errorf("%s takes exactly one task id", command)
		}
	case "batch":
		if len(operands) == 0 {
			return errors.New("batch needs at least one task id")
		}
	case "templates":
		if len(operands) != 0 {
			return errors.New("templates takes no arguments")
		}
	default:
		return fmt.Errorf("unknown command %q", command)
	}
	return nil
}

// parseBonus reads label=points pairs; the label may itself contain '='.
func parseBonus(values []string) ([]scoring.BonusItem, error) {
	items := make([]scoring.BonusItem, 0, len(values))
	for _, value := range values {
		idx := strings.LastIndex(value, "=")
		if idx <= 0 {
			return nil, fmt.Errorf("bonus %q must look like label=points", value)
		}
		points, err := strconv.ParseFloat(strings.TrimSpace(value[idx+1:]), 64)
		if err != nil {
			return nil, fmt.Errorf("bonus %q: invalid points: %v", value, err)
		}
		items = append(items, scoring.BonusItem{Label: strings.TrimSpace(value[:idx]), Points: points})
	}
	return items, nil
}

func activeTemplates(ctx context.Context, rt *bootstrap.Runtime) ([]dto.TemplateResponse, error) {
	active, err := rt.Templates.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]dto.TemplateResponse, 0, len(active))
	for _, tmpl := range active {
		items = append(items, dto.NewTemplateResponse(tmpl))
	}
	sort.Slice(items, func(i, j int) bool { return items[i].FileType < items[j].FileType })
	return items, nil
}

func reportError(w io.Writer, err error) {
	failure := scoring.Failure("", err)
	if failure.TaskID != "" {
		fmt.Fprintf(w, "scorectl: %s (task %s): %s\n", failure.Kind, failure.TaskID, failure.Message)
		return
	}
	fmt.Fprintf(w, "scorectl: %s: %s\n", failure.Kind, failure.Message)
}
