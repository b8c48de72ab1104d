// Package cmd provides the warden command-line interface.
package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"warden/catalog"
	"warden/core"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// CLI output formatters
var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow)
	headerColor  = color.New(color.FgBlue, color.Bold)
)

// Global flags for catalog commands
var (
	outputJSON   bool
	patternsFile string
	rulesFile    string
	noColor      bool
)

// NewCatalogCmd creates the root catalog command with all subcommands.
func NewCatalogCmd() *cobra.Command {
	catalogCmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect and validate the pattern and rule catalogs",
		Long: `Inspect and validate the warden pattern and mitigation rule catalogs.

Patterns define the attack and abuse signatures the engine scores events
against; mitigation rules map detections to automated response actions.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if noColor {
				color.NoColor = true
			}
		},
	}

	catalogCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "Output in JSON format")
	catalogCmd.PersistentFlags().StringVar(&patternsFile, "patterns", "./catalog/patterns.yaml", "Patterns file path")
	catalogCmd.PersistentFlags().StringVar(&rulesFile, "rules", "./catalog/rules.yaml", "Rules file path")
	catalogCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	catalogCmd.AddCommand(newValidateCmd())
	catalogCmd.AddCommand(newShowCmd())
	return catalogCmd
}

func loadCatalog() (*catalog.Catalog, error) {
	loader := catalog.NewLoader(patternsFile, rulesFile, 100*time.Millisecond, zap.NewNop().Sugar())
	return loader.Load()
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the catalog files",
		RunE: func(cmd *cobra.Command, args []string) error {
			var spin *spinner.Spinner
			if !outputJSON {
				spin = spinner.New(spinner.CharSets[14], 100*time.Millisecond)
				spin.Suffix = " Validating catalog..."
				spin.Start()
			}

			cat, err := loadCatalog()
			if spin != nil {
				spin.Stop()
			}
			if err != nil {
				if outputJSON {
					json.NewEncoder(os.Stdout).Encode(map[string]string{"status": "invalid", "error": err.Error()})
				} else {
					errorColor.Fprintf(os.Stderr, "✗ Catalog invalid: %v\n", err)
				}
				return fmt.Errorf("catalog validation failed")
			}

			if outputJSON {
				return json.NewEncoder(os.Stdout).Encode(map[string]interface{}{
					"status":   "valid",
					"patterns": len(cat.Patterns),
					"rules":    len(cat.Rules),
				})
			}
			successColor.Printf("✓ Catalog valid\n")
			fmt.Printf("  %d patterns, %d rules\n", len(cat.Patterns), len(cat.Rules))
			return nil
		},
	}
}

func newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the loaded patterns and rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := loadCatalog()
			if err != nil {
				errorColor.Fprintf(os.Stderr, "✗ Failed to load catalog: %v\n", err)
				return err
			}

			if outputJSON {
				return json.NewEncoder(os.Stdout).Encode(map[string]interface{}{
					"patterns": cat.Patterns,
					"rules":    cat.Rules,
				})
			}

			headerColor.Println("Patterns")
			for _, p := range cat.Patterns {
				status := successColor.Sprint("enabled")
				if !p.Enabled {
					status = warningColor.Sprint("disabled")
				}
				fmt.Printf("  %-28s %-16s threshold=%.2f indicators=%d %s\n",
					p.ID, p.Category, p.ConfidenceThreshold, len(p.Indicators), status)
			}

			headerColor.Println("Mitigation rules")
			for _, r := range cat.Rules {
				status := successColor.Sprint("enabled")
				if !r.Enabled {
					status = warningColor.Sprint("disabled")
				}
				fmt.Printf("  %-28s %-16s severity>=%s cooldown=%s actions=%s %s\n",
					r.ID, r.Category, r.SeverityThreshold, r.CooldownPeriod, formatActions(r.Actions), status)
			}
			return nil
		},
	}
}

func formatActions(kinds []core.ActionKind) string {
	out := ""
	for i, k := range kinds {
		if i > 0 {
			out += ","
		}
		out += string(k)
	}
	return out
}
