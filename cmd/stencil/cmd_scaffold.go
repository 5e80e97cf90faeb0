package main

import (
	"errors"
	"fmt"
	"strings"

	"stencil/internal/introspect"
	"stencil/internal/scaffold"
	"stencil/internal/validate"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	scaffoldVars              []string
	scaffoldOut               string
	scaffoldAllowUnregistered bool
)

var scaffoldCmd = &cobra.Command{
	Use:   "scaffold [artifact-type]",
	Short: "Generate an artifact from its template chain",
	Long: `Resolves the artifact type's template chain, checks the supplied
context against the inferred variable schema, registers the provenance hash,
renders, and validates. Strict rule violations reject the artifact.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := newEngine()
		if err != nil {
			return err
		}
		defer eng.close()

		context := make(map[string]any, len(scaffoldVars))
		for _, kv := range scaffoldVars {
			key, value, ok := strings.Cut(kv, "=")
			if !ok {
				return fmt.Errorf("--set expects key=value, got %q", kv)
			}
			context[key] = value
		}

		result, err := eng.scaffolder.Scaffold(cmd.Context(), scaffold.Request{
			ArtifactType:      args[0],
			Context:           context,
			OutputPath:        scaffoldOut,
			AllowUnregistered: scaffoldAllowUnregistered,
		})
		if err != nil {
			var missing *introspect.MissingVariableError
			if errors.As(err, &missing) {
				fmt.Printf("Missing required variables for %s:\n", args[0])
				for _, name := range missing.Missing {
					fmt.Printf("  --set %s=...\n", name)
				}
			}
			return err
		}

		logger.Info("Scaffold complete",
			zap.String("artifact_type", args[0]),
			zap.String("hash", result.Hash),
			zap.Bool("passed", result.Validation.Passed))

		printIssues(result.Validation)

		if result.Validation.Blocking {
			return fmt.Errorf("artifact rejected by strict validation")
		}

		if !result.Written {
			fmt.Print(result.Artifact)
		}
		return nil
	},
}

func printIssues(v *validate.Result) {
	for _, issue := range v.Issues {
		fmt.Printf("[%s] %s (rule %q from %s)\n", issue.Level, issue.Message, issue.Rule, issue.Template)
	}
}

func init() {
	scaffoldCmd.Flags().StringArrayVar(&scaffoldVars, "set", nil, "context variable as key=value (repeatable)")
	scaffoldCmd.Flags().StringVar(&scaffoldOut, "out", "", "output file path (prints to stdout when empty)")
	scaffoldCmd.Flags().BoolVar(&scaffoldAllowUnregistered, "allow-unregistered", false,
		"emit the artifact even if the registry is unavailable (untraceable output)")
}
