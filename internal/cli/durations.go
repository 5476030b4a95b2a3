package cli

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"mocktest-backend/internal/config"
)

var durationsCmd = &cobra.Command{
	Use:   "durations",
	Short: "Print the effective per-module duration table",
	Long: `Durations merges the TOML duration file with the MODULE_DURATIONS list
exactly as the server does and prints the result.`,
	RunE: runDurations,
}

func init() {
	rootCmd.AddCommand(durationsCmd)
	durationsCmd.Flags().Int("default", 1800, "Default allowance in seconds")
	durationsCmd.Flags().String("file", os.Getenv("MODULE_DURATIONS_FILE"), "TOML duration file")
	durationsCmd.Flags().String("modules", os.Getenv("MODULE_DURATIONS"), "Overrides, e.g. 1=1920,2=2100")
}

func runDurations(cmd *cobra.Command, args []string) error {
	def, _ := cmd.Flags().GetInt("default")
	file, _ := cmd.Flags().GetString("file")
	list, _ := cmd.Flags().GetString("modules")

	d, err := config.LoadDurations(def, file, list)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "default  %s\n", clock(d.Default))

	modules := make([]int, 0, len(d.ByModule))
	for m := range d.ByModule {
		modules = append(modules, m)
	}
	sort.Ints(modules)
	for _, m := range modules {
		fmt.Fprintf(out, "module %d %s\n", m, clock(d.For(m)))
	}
	return nil
}

func clock(seconds int) string {
	return fmt.Sprintf("%02d:%02d (%ds)", seconds/60, seconds%60, seconds)
}
