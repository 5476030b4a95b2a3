package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"mocktest-backend/internal/results"
	"mocktest-backend/internal/storage"
)

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Print the stored results of a test session",
	Long: `Summary reads quiz results from the results API and prints one row per
unit followed by the session totals.`,
	RunE: runSummary,
}

func init() {
	rootCmd.AddCommand(summaryCmd)
	summaryCmd.Flags().String("api", envOr("RESULTS_API_URL", "http://localhost:8080"), "Results API base URL")
	summaryCmd.Flags().String("token", os.Getenv("TESTCTL_TOKEN"), "Bearer token for the learner")
	summaryCmd.Flags().String("user", "", "Learner user id (required)")
	summaryCmd.Flags().String("session", "", "Test session id (required)")
	summaryCmd.Flags().String("section", "", "Section id (required)")
	summaryCmd.Flags().Duration("timeout", 15*time.Second, "Request timeout")
}

func runSummary(cmd *cobra.Command, args []string) error {
	api, _ := cmd.Flags().GetString("api")
	token, _ := cmd.Flags().GetString("token")
	user, _ := cmd.Flags().GetString("user")
	session, _ := cmd.Flags().GetString("session")
	section, _ := cmd.Flags().GetString("section")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	if user == "" || session == "" || section == "" {
		return fmt.Errorf("--user, --session and --section are required")
	}
	if token == "" {
		return fmt.Errorf("a token is required (use --token or TESTCTL_TOKEN)")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client := results.NewClient(nil, results.Options{BaseURL: api, Timeout: timeout}).
		With(storage.NewMemoryStore(), token)

	records, err := client.SessionResults(ctx, user, session, section)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(records) == 0 {
		fmt.Fprintf(out, "no results for session %s\n", session)
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "UNIT\tSTATUS\tCORRECT\tANSWERED\tTOTAL\tSCORE")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%.1f\n",
			r.UnitID, r.Status, r.CorrectAnswers, r.AnsweredQuestions, r.TotalQuestions, r.Score)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	for _, t := range results.GroupBySession(records) {
		fmt.Fprintf(out, "\nsession %s: %d correct of %d answered (%d submissions)\n",
			t.TestSessionID, t.CorrectAnswers, t.AnsweredQuestions, t.Submissions)
	}
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
