package main

import (
	"errors"
	"fmt"

	"github.com/and161185/untis-auth/internal/model"
	"github.com/and161185/untis-auth/internal/service"
	"github.com/spf13/cobra"
)

var studentsCmd = &cobra.Command{
	Use:   "students",
	Short: "List the children linked to the module's parent account",
	RunE:  runStudents,
}

func init() {
	rootCmd.AddCommand(studentsCmd)
}

func runStudents(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	if a.cfg.Module.Username == "" && a.cfg.Module.QRCode == "" {
		return errors.New("module has no parent login configured")
	}
	b, err := a.authenticate(cmd.Context(), model.StudentConfig{}, true)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	students := service.DeriveStudentsFromAppData(b.AppData)
	if students == nil {
		students = []model.Student{}
	}
	return printJSON(cmd.OutOrStdout(), students)
}
