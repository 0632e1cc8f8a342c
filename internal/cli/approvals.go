package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/gzhole/logwarden/internal/approval"
)

var (
	approvalsServer   string
	approvalsFeedback string
	approvalsInterval time.Duration
)

var approvalsCmd = &cobra.Command{
	Use:   "approvals",
	Short: "List and answer remediation approvals held by a running logwarden",
	Long: `Talk to the approval API of a running "logwarden run".

Examples:
  logwarden approvals list
  logwarden approvals approve 3f0c…
  logwarden approvals reject 3f0c… --feedback "check the disk first"
  logwarden approvals watch              # prompt for each new request`,
}

var approvalsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending approval requests",
	RunE:  approvalsList,
}

var approvalsApproveCmd = &cobra.Command{
	Use:   "approve <id>",
	Short: "Approve a pending request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return approvalsResolve(cmd, args[0], approval.StatusApproved)
	},
}

var approvalsRejectCmd = &cobra.Command{
	Use:   "reject <id>",
	Short: "Reject a pending request, optionally with feedback for the next proposal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return approvalsResolve(cmd, args[0], approval.StatusRejected)
	},
}

var approvalsWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Prompt on this terminal for every new request",
	RunE:  approvalsWatch,
}

func init() {
	approvalsCmd.PersistentFlags().StringVar(&approvalsServer, "server", "", "Approval API base URL (default: http://<server.address>)")
	approvalsRejectCmd.Flags().StringVar(&approvalsFeedback, "feedback", "", "Feedback passed to the remediator")
	approvalsWatchCmd.Flags().DurationVar(&approvalsInterval, "interval", 2*time.Second, "Polling interval")

	approvalsCmd.AddCommand(approvalsListCmd)
	approvalsCmd.AddCommand(approvalsApproveCmd)
	approvalsCmd.AddCommand(approvalsRejectCmd)
	approvalsCmd.AddCommand(approvalsWatchCmd)
	rootCmd.AddCommand(approvalsCmd)
}

func approvalClient() (*approval.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	base := approvalsServer
	if base == "" {
		base = cfg.Server.Address
	}
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return approval.NewClient(base, cfg.Server.APIKey), nil
}

func approvalsList(cmd *cobra.Command, args []string) error {
	client, err := approvalClient()
	if err != nil {
		return err
	}
	pending, err := client.ListPending(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list approvals: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(pending) == 0 {
		fmt.Fprintln(out, "No pending approvals.")
		return nil
	}
	fmt.Fprintln(out, "Pending approvals:")
	fmt.Fprintln(out, strings.Repeat("─", 60))
	for _, req := range pending {
		age := time.Since(req.CreatedAt).Round(time.Second)
		fmt.Fprintf(out, "  %s  (waiting %s)\n", req.ID, age)
		if req.Proposal != nil {
			fmt.Fprintf(out, "     %s on %s\n", req.Proposal.Command, req.Proposal.Target)
			if req.Proposal.Summary != "" {
				fmt.Fprintf(out, "     %s\n", req.Proposal.Summary)
			}
		} else {
			fmt.Fprintf(out, "     %s\n", strings.ReplaceAll(req.Plan, "\n", "\n     "))
		}
	}
	fmt.Fprintln(out, strings.Repeat("─", 60))
	return nil
}

func approvalsResolve(cmd *cobra.Command, id string, status approval.Status) error {
	client, err := approvalClient()
	if err != nil {
		return err
	}
	err = client.Resolve(cmd.Context(), id, status, approvalsFeedback)
	if errors.Is(err, approval.ErrUnknownRequest) {
		return fmt.Errorf("approval %s not found or already resolved", id)
	}
	if err != nil {
		return err
	}
	if status == approval.StatusApproved {
		fmt.Fprintf(cmd.OutOrStdout(), "✅ %s approved\n", id)
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "❌ %s rejected\n", id)
	}
	return nil
}

func approvalsWatch(cmd *cobra.Command, args []string) error {
	if !approval.IsInteractive() {
		return fmt.Errorf("watch needs an interactive terminal")
	}
	client, err := approvalClient()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	fmt.Fprintln(os.Stderr, "Watching for approval requests (Ctrl-C to stop)...")
	return approval.NewConsole(client, os.Stdin, os.Stderr, approvalsInterval, nil).Run(ctx)
}
