package cli

import (
	"fmt"
	"os"

	"github.com/AlecAivazis/survey/v2"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var deleteYes bool

var deleteCmd = &cobra.Command{
	Use:   "delete <session-id>",
	Short: "Delete a stored session and its results",
	Long: `Delete a session together with all of its results.

Asks for confirmation unless --yes is given. Without a terminal --yes is
required.

Example:
  wphunter delete <session-id>
  wphunter delete <session-id> --yes`,
	Args: cobra.ExactArgs(1),
	RunE: runDelete,
}

func init() {
	deleteCmd.Flags().BoolVarP(&deleteYes, "yes", "y", false,
		"delete without asking for confirmation")
}

func runDelete(cmd *cobra.Command, args []string) error {
	repo, err := openRepository()
	if err != nil {
		logError("Failed to open database: %v", err)
		return err
	}
	defer func() { _ = repo.Close() }()

	session, err := resolveSession(commandContext(cmd), repo, args[0])
	if err != nil {
		return err
	}

	if !deleteYes {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			return &ValidationError{Message: "refusing to delete without confirmation; pass --yes"}
		}
		confirmed := false
		prompt := &survey.Confirm{
			Message: fmt.Sprintf("Delete session %s (%s, %d results)?", session.ID, session.Status, session.TotalFound),
		}
		if err := survey.AskOne(prompt, &confirmed); err != nil {
			return err
		}
		if !confirmed {
			fmt.Println("Aborted.")
			return nil
		}
	}

	deleted, err := repo.DeleteSession(commandContext(cmd), session.ID)
	if err != nil {
		logError("Failed to delete session: %v", err)
		return err
	}
	if !deleted {
		return &ValidationError{Message: fmt.Sprintf("session %s not found", session.ID)}
	}
	fmt.Printf("Deleted session %s\n", session.ID)
	return nil
}
