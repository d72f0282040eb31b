package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"graderade/lib/configutil"
	"graderade/lib/gradestore"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(historyCmd)
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Prints recorded grade snapshots for the configured user.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), time.Second*10)
		defer cancel()

		cfg, err := configutil.ReadConfig[Config]("config.json5")
		if err != nil {
			return fmt.Errorf("failed to read config.json5: %w", err)
		}
		if cfg.SnapshotDb == "" {
			return fmt.Errorf("no snapshot_db configured")
		}

		db, err := gradestore.Open(cfg.SnapshotDb)
		if err != nil {
			return err
		}
		defer db.Close()

		series, err := gradestore.NewStore(db).Pull(ctx, cfg.Username)
		if err != nil {
			return err
		}
		if len(series) == 0 {
			fmt.Println("no snapshots recorded yet")
			return nil
		}

		for _, course := range series {
			fmt.Printf("\n%s\n", course.Course)

			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.AppendHeader(table.Row{"Date", "Score"})
			for _, snapshot := range course.Snapshots {
				t.AppendRow(table.Row{
					snapshot.Time.Format("2006-01-02"),
					fmt.Sprintf("%.2f", snapshot.Value),
				})
			}
			t.Render()
		}
		return nil
	},
}
