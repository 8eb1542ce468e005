package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/aescanero/dago-studio/internal/application/orchestrator"
	"github.com/aescanero/dago-studio/internal/application/templates"
	"github.com/aescanero/dago-studio/internal/workflow"
)

// errInvalid makes validate exit non-zero without printing a second message.
var errInvalid = errors.New("workflow is not valid")

type options struct {
	output   string
	strict   bool
	nodeCost time.Duration
}

func newRootCmd(out io.Writer) *cobra.Command {
	opts := &options{}
	registry := templates.NewBuiltinRegistry()

	rootCmd := &cobra.Command{
		Use:           "studioctl",
		Short:         "Workflow file tooling",
		Long:          "Validate, plan and normalise dago studio workflow files",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.output != "json" && opts.output != "yaml" {
				return fmt.Errorf("unsupported output format %q (must be json or yaml)", opts.output)
			}
			return nil
		},
	}
	rootCmd.SetOut(out)
	rootCmd.PersistentFlags().StringVarP(&opts.output, "output", "o", "json", "Output format: json or yaml")

	validateCmd := &cobra.Command{
		Use:   "validate [file]",
		Short: "Validate a workflow file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := workflow.ReadFile(args[0], registry)
			if err != nil {
				return err
			}
			result := orchestrator.NewValidator(registry).Validate(g, orchestrator.ValidateOptions{
				RequireTrigger: opts.strict,
			})
			if err := render(cmd.OutOrStdout(), opts.output, result); err != nil {
				return err
			}
			if !result.Valid {
				cmd.SilenceErrors = true
				return errInvalid
			}
			return nil
		},
	}
	validateCmd.Flags().BoolVar(&opts.strict, "strict", false, "Apply the pre-run checks (a trigger node is required)")

	planCmd := &cobra.Command{
		Use:   "plan [file]",
		Short: "Print the execution plan of a workflow file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := workflow.ReadFile(args[0], registry)
			if err != nil {
				return err
			}
			result := orchestrator.NewValidator(registry).Validate(g, orchestrator.ValidateOptions{})
			if !result.Valid {
				if err := render(cmd.OutOrStdout(), opts.output, result); err != nil {
					return err
				}
				cmd.SilenceErrors = true
				return errInvalid
			}
			plan, err := orchestrator.NewPlanner(opts.nodeCost).Plan(g)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), opts.output, plan)
		},
	}
	planCmd.Flags().DurationVar(&opts.nodeCost, "node-cost", orchestrator.DefaultNodeCost, "Estimated duration per node")

	exportCmd := &cobra.Command{
		Use:   "export [file]",
		Short: "Print a workflow file normalised (defaults resolved, categories filled in)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := workflow.ReadFile(args[0], registry)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), opts.output, workflow.Export(g))
		},
	}

	templatesCmd := &cobra.Command{
		Use:   "templates",
		Short: "List the node templates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return render(cmd.OutOrStdout(), opts.output, registry.List())
		},
	}

	rootCmd.AddCommand(validateCmd, planCmd, exportCmd, templatesCmd)
	return rootCmd
}

// render writes v as indented JSON, or as YAML keyed by the JSON field
// names.
func render(w io.Writer, format string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}

	if format == "yaml" {
		var generic any
		if err := json.Unmarshal(data, &generic); err != nil {
			return fmt.Errorf("failed to encode output: %w", err)
		}
		data, err = yaml.Marshal(generic)
		if err != nil {
			return fmt.Errorf("failed to encode output: %w", err)
		}
		_, err = w.Write(data)
		return err
	}

	_, err = fmt.Fprintln(w, string(data))
	return err
}
