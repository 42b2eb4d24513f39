package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ppiankov/wphunter/internal/policy"
)

var (
	policyInitOutput  string
	policyInitForce   bool
	policyCheckFormat string
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Manage the scoring and gating policy",
}

var policyInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a sample policy file",
	Long: `Write a commented sample policy to .wphunter-policy.yaml (or --output).

Example:
  wphunter policy init
  wphunter policy init -o - > my-policy.yaml`,
	Args: cobra.NoArgs,
	RunE: runPolicyInit,
}

var policyCheckCmd = &cobra.Command{
	Use:   "check [session-id|latest]",
	Short: "Evaluate the policy rules against a stored session",
	Long: `Evaluate the gating rules of the policy against a stored session.

Exit codes:
  0  Policy passed
  1  Policy violated
  2  No policy file or invalid policy

Example:
  wphunter policy check latest
  wphunter policy check <session-id> --format json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPolicyCheck,
}

func init() {
	policyInitCmd.Flags().StringVarP(&policyInitOutput, "output", "o", policy.FileNames[0],
		"file to write (- for stdout)")
	policyInitCmd.Flags().BoolVar(&policyInitForce, "force", false,
		"overwrite an existing file")
	policyCheckCmd.Flags().StringVarP(&policyCheckFormat, "format", "f", "text",
		"output format: text or json")
	policyCmd.AddCommand(policyInitCmd, policyCheckCmd)
}

func runPolicyInit(cmd *cobra.Command, args []string) error {
	return writeSample(policy.Sample, policyInitOutput, policyInitForce)
}

func runPolicyCheck(cmd *cobra.Command, args []string) error {
	pol, err := loadPolicy()
	if err != nil {
		return err
	}
	if pol == nil {
		return &ValidationError{Message: "no policy file found (run: wphunter policy init)"}
	}

	repo, err := openRepository()
	if err != nil {
		logError("Failed to open database: %v", err)
		return err
	}
	defer func() { _ = repo.Close() }()

	arg := ""
	if len(args) > 0 {
		arg = args[0]
	}
	session, err := resolveSession(commandContext(cmd), repo, arg)
	if err != nil {
		return err
	}
	records, err := allResults(commandContext(cmd), repo, session.ID)
	if err != nil {
		return err
	}

	results := toScored(records)
	res := pol.Evaluate(results, storedSummary(session, results))

	if policyCheckFormat == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
	} else if res.Pass {
		fmt.Printf("%s session %s passes policy (%d results)\n", color.GreenString("✓"), session.ID, len(results))
	}

	if res.Pass {
		return nil
	}
	details := make([]string, 0, len(res.Violations))
	for _, v := range res.Violations {
		if policyCheckFormat != "json" {
			fmt.Printf("%s %s: %s\n", color.RedString("✗"), v.Rule, v.Message)
		}
		details = append(details, fmt.Sprintf("%s: %s", v.Rule, v.Message))
	}
	return &ThresholdExceededError{Violations: len(res.Violations), Details: details}
}
