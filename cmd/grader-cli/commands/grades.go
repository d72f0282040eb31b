package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"graderade/lib/configutil"
	"graderade/lib/gradestore"
	"graderade/lib/scrapers/hac"
	"graderade/services/grades"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

type Config struct {
	BaseUrl    string `json:"base_url"`
	Username   string `json:"username"`
	Password   string `json:"password"`
	SnapshotDb string `json:"snapshot_db"`
}

func init() {
	rootCmd.AddCommand(gradesCmd)
	rootCmd.AddCommand(periodsCmd)
}

func loginService(ctx context.Context) (*grades.Service, Config, error) {
	cfg, err := configutil.ReadConfig[Config]("config.json5")
	if err != nil {
		return nil, cfg, fmt.Errorf("failed to read config.json5: %w", err)
	}
	if cfg.BaseUrl == "" {
		cfg.BaseUrl = "https://hac.friscoisd.org"
	}

	client, err := hac.NewClient(hac.ClientOptions{BaseUrl: cfg.BaseUrl})
	if err != nil {
		return nil, cfg, err
	}

	var opts []grades.Option
	if cfg.SnapshotDb != "" {
		db, err := gradestore.Open(cfg.SnapshotDb)
		if err != nil {
			return nil, cfg, fmt.Errorf("failed to open snapshot db: %w", err)
		}
		opts = append(opts, grades.WithSnapshotStore(gradestore.NewStore(db)))
	}
	service := grades.NewService(client, opts...)

	outcome, err := service.Login(ctx, cfg.Username, cfg.Password)
	if err != nil {
		return nil, cfg, err
	}
	if outcome.Kind != hac.OutcomeSuccess {
		return nil, cfg, fmt.Errorf("login failed: %s", outcome.String())
	}
	return service, cfg, nil
}

var gradesCmd = &cobra.Command{
	Use:   "grades",
	Short: "Logs in and prints the current marking period's grades.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
		defer cancel()

		service, _, err := loginService(ctx)
		if err != nil {
			return err
		}

		result, _ := service.Grades().Latest()
		if result == nil {
			return fmt.Errorf("no grades were published")
		}
		if result.Err != nil {
			return result.Err
		}

		for _, course := range result.Value {
			fmt.Printf("\n%s (%s)\n", course.CourseName, course.OverallScore)

			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.AppendHeader(table.Row{"Due", "Assigned", "Assignment", "Category", "Score", "Total"})
			for _, a := range course.Assignments {
				t.AppendRow(table.Row{a.DateDue, a.DateAssigned, a.Name, a.Category, a.Score, a.TotalPoints})
			}
			t.Render()
		}
		return nil
	},
}

var periodsCmd = &cobra.Command{
	Use:   "periods",
	Short: "Logs in and prints the available marking periods.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
		defer cancel()

		service, _, err := loginService(ctx)
		if err != nil {
			return err
		}

		result, _ := service.MarkingPeriods().Latest()
		if result == nil {
			return fmt.Errorf("no marking periods were published")
		}
		if result.Err != nil {
			return result.Err
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Name", "Value", "Selected"})
		for _, p := range result.Value {
			t.AppendRow(table.Row{p.Name, p.Value, p.IsSelected})
		}
		t.Render()
		return nil
	},
}
