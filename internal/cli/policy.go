package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Inspect the command safety filter",
}

var policyCheckCmd = &cobra.Command{
	Use:   "check [--] <command...>",
	Short: "Show whether a command would pass the safety filter",
	Long: `Evaluate a command against the configured policy and packs without
running it.

Examples:
  logwarden policy check -- df -h
  logwarden policy check "ps aux | grep nifi"
  logwarden policy check -- sudo systemctl restart nifi`,
	Args: cobra.MinimumNArgs(1),
	RunE: policyCheck,
}

func init() {
	policyCmd.AddCommand(policyCheckCmd)
	rootCmd.AddCommand(policyCmd)
}

func policyCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	engine, _, err := loadEngine(cfg)
	if err != nil {
		return err
	}

	command := strings.Join(args, " ")
	result := engine.Evaluate(command)

	out := cmd.OutOrStdout()
	if result.Blocked() {
		fmt.Fprintf(out, "❌ BLOCK  %s\n", command)
	} else {
		fmt.Fprintf(out, "✅ ALLOW  %s\n", command)
	}
	if len(result.TriggeredRules) > 0 {
		fmt.Fprintf(out, "     Rules: %s\n", strings.Join(result.TriggeredRules, ", "))
	}
	for _, r := range result.Reasons {
		fmt.Fprintf(out, "     Reason: %s\n", r)
	}
	return nil
}
