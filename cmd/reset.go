package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/andresmejia3/facesampler/internal/config"
	"github.com/spf13/cobra"
)

var (
	resetDB    bool
	resetFiles bool
	resetYes   bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset system state (run ledger, saved arrays)",
	Long:  "Clears all data. By default, it resets everything. Use flags to clear specific components.",
	RunE: func(cmd *cobra.Command, args []string) error {
		// If no flags are set, default to clearing EVERYTHING
		if !resetDB && !resetFiles {
			resetDB = true
			resetFiles = true
		}

		reader := bufio.NewReader(os.Stdin)
		ask := func(prompt string) bool { return resetYes || confirm(reader, prompt) }

		if resetDB {
			switch {
			case DB == nil:
				fmt.Println("ℹ️  No database configured, skipping ledger.")
			case ask("⚠️  Are you sure you want to DROP all run ledger tables?"):
				fmt.Println("🗑️  Clearing Database...")
				if err := DB.Reset(cmd.Context()); err != nil {
					return fmt.Errorf("failed to reset database: %w", err)
				}
			}
		}

		if resetFiles {
			files := resetTargets(Cfg)
			if ask(fmt.Sprintf("⚠️  Are you sure you want to delete %s?", strings.Join(files, ", "))) {
				fmt.Println("🗑️  Clearing Output Files...")
				for _, f := range files {
					removeFile(os.Stderr, f)
				}
			}
		}

		fmt.Println("✨ System Reset Complete.")
		return nil
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetDB, "db", false, "Clear the PostgreSQL run ledger")
	resetCmd.Flags().BoolVar(&resetFiles, "files", false, "Clear generated files (X/y arrays, metrics file)")
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "Do not ask for confirmation")
	rootCmd.AddCommand(resetCmd)
}

// resetTargets lists the generated files reset removes. The output lock stays:
// a concurrent run may be holding it.
func resetTargets(cfg *config.Config) []string {
	files := []string{cfg.XPath(), cfg.YPath()}
	if cfg.MetricsFile != "" {
		files = append(files, cfg.MetricsFile)
	}
	return files
}

func confirm(r *bufio.Reader, prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	res, _ := r.ReadString('\n')
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}

func removeFile(w io.Writer, path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(w, "⚠️  Failed to remove %s: %v\n", path, err)
	}
}
