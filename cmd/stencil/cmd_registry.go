package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var registryCmd = &cobra.Command{
	Use:   "registry",
	Short: "Inspect the version hash registry",
}

var registryLookupCmd = &cobra.Command{
	Use:   "lookup [hash]",
	Short: "Resolve a provenance hash to its template chain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := newEngine()
		if err != nil {
			return err
		}
		defer eng.close()

		entry, ok, err := eng.registry.Lookup(args[0])
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("hash %s is not registered", args[0])
		}

		fmt.Printf("Hash: %s\n", entry.Hash)
		fmt.Printf("Artifact type: %s\n", entry.ArtifactType)
		fmt.Printf("Created: %s\n", entry.CreatedAt.Format("2006-01-02 15:04:05 MST"))
		fmt.Println("Chain:")
		for _, tv := range entry.Chain {
			fmt.Printf("  %s@%s (checksum %s)\n", tv.TemplateName, tv.Version, tv.Checksum)
		}
		return nil
	},
}

var registryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all registered chain versions",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := newEngine()
		if err != nil {
			return err
		}
		defer eng.close()

		entries, err := eng.registry.Entries()
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("Registry is empty.")
			return nil
		}

		for _, entry := range entries {
			fmt.Printf("%s  %-16s  %d tiers  %s\n",
				entry.Hash, entry.ArtifactType, len(entry.Chain),
				entry.CreatedAt.Format("2006-01-02 15:04"))
		}
		return nil
	},
}

func init() {
	registryCmd.AddCommand(registryLookupCmd)
	registryCmd.AddCommand(registryListCmd)
}
