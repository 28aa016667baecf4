package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Log in as a configured student entry and end that backend session",
	RunE:  runLogout,
}

var logoutStudent int

func init() {
	logoutCmd.Flags().IntVar(&logoutStudent, "student", 0, "index of a configured student entry")
	rootCmd.AddCommand(logoutCmd)
}

func runLogout(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	if logoutStudent < 0 || logoutStudent >= len(a.cfg.Students) {
		return fmt.Errorf("no student entry %d (have %d)", logoutStudent, len(a.cfg.Students))
	}
	st := a.cfg.Students[logoutStudent]
	if _, err := a.authenticate(cmd.Context(), st, false); err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	res := a.broker.Logout(cmd.Context(), cacheKeyFor(st, a.cfg.Module))
	if res.Warning != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "logged out with warning: %s\n", res.Warning)
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), "logged out")
	return nil
}
