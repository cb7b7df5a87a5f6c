// Package sessions implements the sessions command for inspecting past
// and running crawl sessions.
package sessions

import (
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/jonesrussell/webwords/internal/config"
	"github.com/jonesrussell/webwords/internal/database"
	"github.com/jonesrussell/webwords/internal/domain"
)

// defaultListLimit bounds the sessions listed without an explicit flag.
const defaultListLimit = 20

// Command creates the sessions command.
func Command(cfgFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect crawl sessions",
	}
	cmd.AddCommand(listCommand(cfgFile))
	return cmd
}

func listCommand(cfgFile *string) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List crawl sessions, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*cfgFile)
			if err != nil {
				return err
			}

			db, err := database.NewPostgresConnection(cfg.Database.Connection())
			if err != nil {
				return err
			}
			defer db.Close()

			store := database.NewStore(db)
			sessions, err := store.ListSessions(cmd.Context(), limit)
			if err != nil {
				return err
			}

			render(sessions)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", defaultListLimit, "maximum sessions to list")
	return cmd
}

func render(sessions []domain.CrawlSession) {
	if len(sessions) == 0 {
		fmt.Println("no sessions found")
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{
		"ID", "Name", "State", "Started", "Duration", "Pages", "Failed", "Words",
	})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Name: "Pages", Align: text.AlignRight},
		{Name: "Failed", Align: text.AlignRight},
		{Name: "Words", Align: text.AlignRight},
	})

	for _, s := range sessions {
		t.AppendRow(table.Row{
			s.ID.String(),
			s.Name,
			s.State,
			s.StartedAt.Format(time.RFC3339),
			duration(s),
			s.PagesCrawled,
			s.PagesFailed,
			s.TotalWords,
		})
	}
	t.Render()
}

func duration(s domain.CrawlSession) string {
	if s.EndedAt == nil {
		return "running"
	}
	return s.EndedAt.Sub(s.StartedAt).Round(time.Second).String()
}
