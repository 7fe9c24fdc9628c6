// Package cli defines the pipecrate command tree. The fixed compiler
// surface (validate, plan, make) is cobra; the entrypoint subcommand
// disables cobra's flag parsing because its flag set is derived from the
// embedded spec at runtime.
package cli

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/vk/pipecrate/internal/app"
	"github.com/vk/pipecrate/internal/runtime"
)

// ExitError is an error that carries a specific process exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

type rootFlags struct {
	logLevel  string
	logFormat string
}

// New builds the root command writing to the given streams.
func New(outW, errW io.Writer) *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:           "pipecrate",
		Short:         "Compile declarative pipeline specs into runnable container images.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "info", "Logging level: debug, info, warn or error.")
	root.PersistentFlags().StringVar(&flags.logFormat, "log-format", "text", "Log output format: json, text or tint.")

	root.AddCommand(newValidateCmd(outW, errW, flags))
	root.AddCommand(newPlanCmd(outW, errW, flags))
	root.AddCommand(newMakeCmd(outW, errW, flags))
	root.AddCommand(newEntrypointCmd(outW, errW, flags))
	return root
}

// scanFlag extracts --name from raw args into dest, if present.
func scanFlag(args []string, name string, dest *string) {
	long, short := "--"+name, "-"+name
	for i, arg := range args {
		switch {
		case arg == long || arg == short:
			if i+1 < len(args) {
				*dest = args[i+1]
			}
		case strings.HasPrefix(arg, long+"="):
			*dest = strings.TrimPrefix(arg, long+"=")
		case strings.HasPrefix(arg, short+"="):
			*dest = strings.TrimPrefix(arg, short+"=")
		}
	}
}

func newApp(outW, errW io.Writer, flags *rootFlags) (*app.App, error) {
	a, err := app.NewApp(outW, errW, flags.logLevel, flags.logFormat)
	if err != nil {
		return nil, &ExitError{Code: 2, Message: err.Error()}
	}
	return a, nil
}

func newValidateCmd(outW, errW io.Writer, flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <spec.hcl|dir>",
		Short: "Load and validate pipeline specs without building anything.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(outW, errW, flags)
			if err != nil {
				return err
			}
			return a.Validate(cmd.Context(), args[0])
		},
	}
}

func newPlanCmd(outW, errW io.Writer, flags *rootFlags) *cobra.Command {
	var buildDir string

	cmd := &cobra.Command{
		Use:   "plan <spec.hcl>",
		Short: "Validate a spec and write its build context without building.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(outW, errW, flags)
			if err != nil {
				return err
			}
			return a.Plan(cmd.Context(), args[0], buildDir)
		},
	}
	cmd.Flags().StringVar(&buildDir, "build-dir", "build", "Directory the build context is written to.")
	return cmd
}

func newMakeCmd(outW, errW io.Writer, flags *rootFlags) *cobra.Command {
	cfg := app.MakeConfig{}
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "make <spec.hcl>",
		Short: "Compile a spec into a container image.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(outW, errW, flags)
			if err != nil {
				return err
			}
			cfg.BuildTimeout = timeout
			_, err = a.Make(cmd.Context(), args[0], cfg)
			return err
		},
	}
	cmd.Flags().StringVar(&cfg.BuildDir, "build-dir", "", "Directory the build context is written to (temp dir when empty).")
	cmd.Flags().StringVar(&cfg.Builder, "builder", "docker", "Build collaborator: 'docker' or 'dry-run'.")
	cmd.Flags().DurationVar(&timeout, "build-timeout", 0, "Bound on the delegated image build; 0 means unbounded.")
	return cmd
}

func newEntrypointCmd(outW, errW io.Writer, flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:    "entrypoint [generated flags]",
		Short:  "Run the generated pipeline entrypoint against the embedded spec.",
		Hidden: true,
		// The flag surface is derived from the embedded spec; cobra
		// cannot know it ahead of time.
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Flag parsing is disabled, so pick the logging flags out of
			// the raw args before the app builds its logger.
			scanFlag(args, "log-level", &flags.logLevel)
			scanFlag(args, "log-format", &flags.logFormat)

			a, err := newApp(outW, errW, flags)
			if err != nil {
				return err
			}
			code := a.Entrypoint(cmd.Context(), args, os.Environ())
			if code != runtime.ExitSuccess {
				// Diagnostics already went to the error stream; only the
				// exit code is left to propagate.
				return &ExitError{Code: code}
			}
			return nil
		},
	}
}
