package main

import (
	"github.com/and161185/untis-auth/internal/model"
	"github.com/and161185/untis-auth/internal/service"
	"github.com/spf13/cobra"
)

var targetsCmd = &cobra.Command{
	Use:   "targets",
	Short: "Resolve the REST targets of every configured student",
	RunE:  runTargets,
}

func init() {
	rootCmd.AddCommand(targetsCmd)
}

type studentTargets struct {
	Title   string             `json:"title"`
	Targets []model.RestTarget `json:"targets"`
	Error   string             `json:"error,omitempty"`
}

func runTargets(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	out := make([]studentTargets, 0, len(a.cfg.Students))
	for _, st := range a.cfg.Students {
		entry := studentTargets{Title: st.Title, Targets: []model.RestTarget{}}
		b, err := a.authenticate(cmd.Context(), st, false)
		if err != nil {
			entry.Error = err.Error()
			out = append(out, entry)
			continue
		}
		school, server := service.ResolveSchoolAndServer(st, a.cfg.Module)
		if school == "" {
			school = b.School
		}
		if server == "" {
			server = b.Server
		}
		if t := service.BuildRestTargets(service.TargetInput{
			Student:     st,
			Module:      a.cfg.Module,
			School:      school,
			Server:      server,
			OwnPersonID: b.PersonID,
			BearerToken: b.Token,
			AppData:     b.AppData,
			Role:        b.Role,
		}); t != nil {
			entry.Targets = t
		}
		out = append(out, entry)
	}
	return printJSON(cmd.OutOrStdout(), out)
}
