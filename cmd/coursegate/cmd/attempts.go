package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmcleod/coursegate/attemptlog"
)

var attemptsCmd = &cobra.Command{
	Use:   "attempts",
	Short: "Inspect and prune the authentication attempt log",
	Long: `Commands for reading and trimming the attempt log that drives brute-force
protection. The server must not be running against the same data directory.`,
}

var attemptsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent attempts, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		repo, closeRepo, err := openRepository(cfg)
		if err != nil {
			return err
		}
		defer closeRepo()

		flags := cmd.Flags()
		var f attemptlog.Filter
		f.Identity, _ = flags.GetString("identity")
		f.Origin, _ = flags.GetString("origin")
		f.FailedOnly, _ = flags.GetBool("failed")
		if since, _ := flags.GetDuration("since"); since > 0 {
			f.Since = time.Now().Add(-since)
		}
		limit, _ := flags.GetInt("limit")

		attempts, err := attemptlog.NewRepositoryLog(repo).Recent(context.Background(), f, limit)
		if err != nil {
			return err
		}

		if asJSON, _ := flags.GetBool("json"); asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(attempts)
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "TIME\tIDENTITY\tORIGIN\tROUTE\tRESULT\tREASON")
		for _, a := range attempts {
			result := "fail"
			if a.Success {
				result = "ok"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
				a.CreatedAt.Format(time.RFC3339), a.Identity, a.Origin, a.Route, result, a.Reason)
		}
		return tw.Flush()
	},
}

var attemptsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete attempts older than a cutoff",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		olderThan := cfg.Auth.AttemptRetention.Duration
		if cmd.Flags().Changed("older-than") {
			olderThan, _ = cmd.Flags().GetDuration("older-than")
		}

		repo, closeRepo, err := openRepository(cfg)
		if err != nil {
			return err
		}
		defer closeRepo()

		n, err := attemptlog.NewRepositoryLog(repo).Prune(context.Background(), time.Now().Add(-olderThan))
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "pruned %d attempts older than %s\n", n, olderThan)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(attemptsCmd)
	attemptsCmd.AddCommand(attemptsListCmd, attemptsPruneCmd)

	f := attemptsListCmd.Flags()
	f.String("identity", "", "Only attempts for this identity")
	f.String("origin", "", "Only attempts from this origin")
	f.Bool("failed", false, "Only failed attempts")
	f.Duration("since", 0, "Only attempts newer than this (e.g. 15m)")
	f.Int("limit", 50, "Maximum number of attempts (0 for all)")
	f.Bool("json", false, "Print JSON instead of a table")

	attemptsPruneCmd.Flags().Duration("older-than", 0, "Retention cutoff (defaults to auth.attempt_retention)")
}
