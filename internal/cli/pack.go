package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gzhole/logwarden/internal/policy"
)

var packCmd = &cobra.Command{
	Use:   "pack",
	Short: "Manage policy packs",
	Long: `Policy packs add diagnostic verbs, denied commands and rules for one
family of targets. They are YAML files in the packs directory
(execution.packs_dir, default ~/.logwarden/packs) merged into the base
policy at startup. A file whose name starts with "_" is disabled.

Examples:
  logwarden pack list
  logwarden pack show nifi
  logwarden pack disable postgres
  logwarden pack enable postgres`,
}

func init() {
	packCmd.AddCommand(
		&cobra.Command{Use: "list", Short: "List policy packs", Args: cobra.NoArgs, RunE: packList},
		&cobra.Command{Use: "show <pack>", Short: "Show what a pack adds to the policy", Args: cobra.ExactArgs(1), RunE: packShow},
		&cobra.Command{Use: "enable <pack>", Short: "Enable a pack", Args: cobra.ExactArgs(1), RunE: packToggle(true)},
		&cobra.Command{Use: "disable <pack>", Short: "Disable a pack", Args: cobra.ExactArgs(1), RunE: packToggle(false)},
	)
	rootCmd.AddCommand(packCmd)
}

func packsDir() (string, error) {
	cfg, err := loadConfig()
	if err != nil {
		return "", err
	}
	return cfg.Execution.PacksDir, nil
}

func packList(cmd *cobra.Command, _ []string) error {
	dir, err := packsDir()
	if err != nil {
		return err
	}
	_, infos, err := policy.LoadPacks(dir, policy.DefaultPolicy())
	if err != nil {
		return fmt.Errorf("failed to load packs: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(infos) == 0 {
		fmt.Fprintf(out, "No policy packs in %s\n", dir)
		return nil
	}
	for _, info := range infos {
		printPackInfo(out, info)
	}
	fmt.Fprintf(out, "\nPacks directory: %s\n", dir)
	return nil
}

func printPackInfo(out io.Writer, info policy.PackInfo) {
	mark := "✅"
	if !info.Enabled {
		mark = "⏸ "
	}
	if info.Err != nil {
		fmt.Fprintf(out, "%s %-24s ⚠ %v\n", mark, info.Name, info.Err)
		return
	}
	fmt.Fprintf(out, "%s %-24s %s\n", mark, info.Name, info.Description)
	fmt.Fprintf(out, "     %d verbs, %d denies, %d rules", info.VerbCount, info.DenyCount, info.RuleCount)
	if info.Version != "" {
		fmt.Fprintf(out, "  v%s", info.Version)
	}
	if info.Author != "" {
		fmt.Fprintf(out, " by %s", info.Author)
	}
	fmt.Fprintln(out)
}

func packShow(cmd *cobra.Command, args []string) error {
	dir, err := packsDir()
	if err != nil {
		return err
	}
	path, enabled, err := policy.FindPack(dir, args[0])
	if err != nil {
		return err
	}
	pack, err := policy.ReadPack(path)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	state := "enabled"
	if !enabled {
		state = "disabled"
	}
	fmt.Fprintf(out, "%s (%s)\n", firstNonEmpty(pack.Name, args[0]), state)
	if pack.Description != "" {
		fmt.Fprintf(out, "  %s\n", pack.Description)
	}
	fmt.Fprintf(out, "  File: %s\n", path)
	printList(out, "Allowed verbs", pack.AllowVerbs)
	printList(out, "Denied commands", pack.DenyCommands)
	printList(out, "Denied tokens", pack.DenyTokens)
	if len(pack.Rules) > 0 {
		fmt.Fprintln(out, "  Rules:")
		for _, r := range pack.Rules {
			fmt.Fprintf(out, "    %-6s %s", r.Decision, r.ID)
			if r.Reason != "" {
				fmt.Fprintf(out, ": %s", r.Reason)
			}
			fmt.Fprintln(out)
		}
	}
	return nil
}

func printList(out io.Writer, label string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(out, "  %s: %s\n", label, strings.Join(items, ", "))
}

func packToggle(enable bool) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		dir, err := packsDir()
		if err != nil {
			return err
		}
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
		changed, err := policy.SetPackEnabled(dir, args[0], enable)
		if err != nil {
			return err
		}

		verb := "disabled"
		if enable {
			verb = "enabled"
		}
		if !changed {
			fmt.Fprintf(cmd.OutOrStdout(), "Pack %q is already %s.\n", args[0], verb)
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Pack %q %s. It applies from the next run.\n", args[0], verb)
		return nil
	}
}
