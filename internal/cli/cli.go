package cli

import (
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/modelyard/modelyard/internal/app"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

const usageText = `modelyard - a pipeline orchestrator with versioned artifact lineage.

Usage:
  modelyard <command> [options]

Commands:
  run        Execute one pipeline run (or a sweep with -m).
  tag        Reassign a tag on an artifact version (promotion).
  get        Fetch an artifact payload by name:version or name:tag.
  artifacts  List artifact names, versions and tags.
  runs       List recorded pipeline runs, or one run's steps.
  serve      Run the shared artifact-store HTTP server.
  watch      Watch the data-drop path and trigger runs on change.

Run 'modelyard <command> -h' for the command's options.
`

// Parse processes command-line arguments. It returns a populated app
// Config, a boolean indicating the program should exit cleanly, or an
// ExitError.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	if len(args) == 0 {
		fmt.Fprint(output, usageText)
		return nil, true, nil
	}
	command := args[0]
	if command == "-h" || command == "--help" || command == "help" {
		fmt.Fprint(output, usageText)
		return nil, true, nil
	}

	flagSet := flag.NewFlagSet("modelyard "+command, flag.ContinueOnError)
	flagSet.SetOutput(output)

	cfg := app.Config{Command: command}
	logFormatFlag := flagSet.String("log-format", "text", "Log output format. Options: 'text' or 'json'.")
	logLevelFlag := flagSet.String("log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	flagSet.StringVar(&cfg.StorePath, "store", "", "Artifact store: a local directory or an http(s) store server URL.")

	var selectFlag, setFlags stringList
	switch command {
	case app.CmdRun, app.CmdWatch:
		flagSet.StringVar(&cfg.PipelinePath, "pipeline", "", "Path to the pipeline definition (.hcl).")
		flagSet.StringVar(&cfg.ParamsPath, "params", "", "Path to the base parameter tree (.yaml).")
		flagSet.StringVar(&cfg.StepsDir, "steps", "", "Directory of extra step-type manifests (.hcl).")
		flagSet.Var(&setFlags, "set", "Override 'key.path=value'. Repeatable; comma lists sweep with -m.")
		flagSet.Var(&selectFlag, "select", "Step selection: 'all' or a comma-separated list of step names.")
		flagSet.BoolVar(&cfg.MultiRun, "m", false, "Multirun: expand -set value lists into a sweep grid.")
		flagSet.BoolVar(&cfg.MultiRun, "multirun", false, "Multirun: expand -set value lists into a sweep grid.")
		flagSet.IntVar(&cfg.Workers, "workers", 4, "Number of sweep points running in parallel.")
		flagSet.StringVar(&cfg.WorkRoot, "work-dir", "", "Root for per-step scratch directories. Empty uses the system temp dir.")
		if command == app.CmdWatch {
			flagSet.StringVar(&cfg.WatchPath, "path", "", "File or directory to watch for data drops.")
			flagSet.DurationVar(&cfg.Debounce, "debounce", 2*time.Second, "Quiet period before a change triggers a run.")
		}
	case app.CmdTag:
		flagSet.StringVar(&cfg.TagRef, "artifact", "", "Exact version reference to tag, e.g. model_export:v3.")
		flagSet.StringVar(&cfg.TagName, "tag", "", "Tag to move, e.g. production-ready.")
	case app.CmdGet:
		flagSet.StringVar(&cfg.GetRef, "artifact", "", "Reference to fetch, e.g. clean_sample.csv:latest.")
		flagSet.StringVar(&cfg.OutPath, "o", "", "Destination file. Empty writes the payload to stdout.")
	case app.CmdRuns:
		flagSet.StringVar(&cfg.PipelineRunID, "pipeline-run", "", "Show the step runs of one pipeline run.")
	case app.CmdArtifacts:
		// Only the shared flags.
	case app.CmdServe:
		flagSet.StringVar(&cfg.ListenAddr, "listen", ":8700", "Address for the store server to listen on.")
	default:
		fmt.Fprint(output, usageText)
		return nil, false, &ExitError{Code: 2, Message: fmt.Sprintf("unknown command %q", command)}
	}

	if err := flagSet.Parse(args[1:]); err != nil {
		if err == flag.ErrHelp {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	logFormat := strings.ToLower(*logFormatFlag)
	if logFormat != "text" && logFormat != "json" {
		return nil, false, &ExitError{Code: 2, Message: "invalid log-format: must be 'text' or 'json'"}
	}
	logLevel := strings.ToLower(*logLevelFlag)
	switch logLevel {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return nil, false, &ExitError{Code: 2, Message: "invalid log-level: must be 'debug', 'info', 'warn', or 'error'"}
	}
	cfg.LogFormat = logFormat
	cfg.LogLevel = logLevel
	cfg.Overrides = setFlags
	if len(selectFlag) > 0 {
		cfg.Selection = app.SplitSelection(strings.Join(selectFlag, ","))
	}

	validated, err := app.NewConfig(cfg)
	if err != nil {
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	return validated, false, nil
}

// stringList collects a repeatable string flag.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(value string) error {
	*s = append(*s, value)
	return nil
}
