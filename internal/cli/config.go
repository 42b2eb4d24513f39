package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/wphunter/internal/config"
)

var (
	configInitOutput string
	configInitForce  bool
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the WPHunter configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Print or write a sample configuration file",
	Long: `Print a commented sample configuration, or write it with --output.

Example:
  wphunter config init
  wphunter config init -o wphunter.yaml`,
	Args: cobra.NoArgs,
	RunE: runConfigInit,
}

func init() {
	configInitCmd.Flags().StringVarP(&configInitOutput, "output", "o", "",
		"write the sample to this file instead of stdout")
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false,
		"overwrite an existing file")
	configCmd.AddCommand(configInitCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	return writeSample(config.GenerateSampleConfig(), configInitOutput, configInitForce)
}

// writeSample prints content, or writes it to path unless it exists and force is unset
func writeSample(content, path string, force bool) error {
	if path == "" || path == "-" {
		fmt.Print(content)
		return nil
	}
	if _, err := os.Stat(path); err == nil && !force {
		return &ValidationError{Message: fmt.Sprintf("%s already exists (use --force to overwrite)", path)}
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Printf("Wrote %s\n", path)
	return nil
}
