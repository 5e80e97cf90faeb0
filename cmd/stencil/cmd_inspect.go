package main

import (
	"fmt"
	"strings"

	"stencil/internal/introspect"

	"github.com/spf13/cobra"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect [artifact-type]",
	Short: "Show the inferred variable schema for an artifact type",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := newEngine()
		if err != nil {
			return err
		}
		defer eng.close()

		templateName, _, err := eng.cfg.TemplateFor(args[0])
		if err != nil {
			return err
		}
		c, err := eng.resolver.Resolve(templateName)
		if err != nil {
			return err
		}
		schema, err := introspect.New().Introspect(c)
		if err != nil {
			return err
		}

		fmt.Printf("Artifact type: %s\n", args[0])
		fmt.Printf("Chain: %s\n", strings.Join(c.Names(), " -> "))
		printSet("Required", schema.Required)
		printSet("Optional", schema.Optional)
		printSet("System", schema.System)
		return nil
	},
}

func printSet(label string, names []string) {
	fmt.Printf("%s (%d):\n", label, len(names))
	for _, name := range names {
		fmt.Printf("  %s\n", name)
	}
}

var chainCmd = &cobra.Command{
	Use:   "chain [template]",
	Short: "Show the resolved inheritance chain for a template",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := newEngine()
		if err != nil {
			return err
		}
		defer eng.close()

		c, err := eng.resolver.Resolve(args[0])
		if err != nil {
			return err
		}

		for i, node := range c.Nodes {
			fmt.Printf("%d. %s@%s (%s)\n", i, node.Name, node.Version(), node.Path)
		}
		for _, lib := range c.Imports {
			fmt.Printf("   + %s@%s (pattern library)\n", lib.Name, lib.Version())
		}
		return nil
	},
}
