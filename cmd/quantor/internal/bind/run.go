// Package bind centralizes the extraction and validation of command-line
// flags into service-layer option structs.
package bind

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// ErrInvalidFormat means the requested output format is not supported.
var ErrInvalidFormat = errors.New("invalid output format")

// RunOptions carries the validated flags of the run command.
type RunOptions struct {
	Kind         string
	JobID        string
	Params       map[string]string
	OutputFormat string
	Progress     bool
}

// BindRunOptions extracts and validates run command flags.
//
// Flags read:
//   - --job-id: Pin the job id instead of generating one
//   - --param: Extra worker flags as key=value (repeatable)
//   - --output: Output format (text, json, yaml)
//   - --progress: Print live progress updates
func BindRunOptions(cmd *cobra.Command, kind string) (RunOptions, error) {
	jobID, _ := cmd.Flags().GetString("job-id")
	params, _ := cmd.Flags().GetStringToString("param")
	output, _ := cmd.Flags().GetString("output")
	progress, _ := cmd.Flags().GetBool("progress")

	output = strings.ToLower(output)
	switch output {
	case "text", "json", "yaml":
	default:
		return RunOptions{}, fmt.Errorf("%w %q: must be text, json or yaml", ErrInvalidFormat, output)
	}

	return RunOptions{
		Kind:         kind,
		JobID:        jobID,
		Params:       params,
		OutputFormat: output,
		Progress:     progress,
	}, nil
}
