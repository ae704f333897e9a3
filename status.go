package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/deemkeen/lemmings/federation"
	"github.com/spf13/cobra"
)

const (
	COLOR_GREY    = "241"
	COLOR_MAGENTA = "170"
	COLOR_RED     = "196"
	COLOR_PURPLE  = "#7D56F4"
)

var (
	headerStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color(COLOR_PURPLE)).Bold(true).Padding(0, 1)
	cellStyle    = lipgloss.NewStyle().Padding(0, 1)
	failingStyle = cellStyle.Foreground(lipgloss.Color(COLOR_RED))
	laggingStyle = cellStyle.Foreground(lipgloss.Color(COLOR_MAGENTA))
	captionStyle = lipgloss.NewStyle().Foreground(lipgloss.Color(COLOR_GREY))
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the outbound federation state of every known instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				stats, err := federation.ReadStatus(ctx, a.db)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderStatus(stats, time.Now()))
				return nil
			})
		},
	}
}

func ago(t *time.Time, now time.Time) string {
	if t == nil {
		return "never"
	}
	return now.Sub(*t).Truncate(time.Second).String() + " ago"
}

// renderStatus draws one row per instance. Failing instances are red and
// lagging ones highlighted.
func renderStatus(stats []federation.Stats, now time.Time) string {
	if len(stats) == 0 {
		return captionStyle.Render("no known instances")
	}

	rows := make([][]string, 0, len(stats))
	for _, st := range stats {
		rows = append(rows, []string{
			st.Instance,
			strconv.FormatInt(st.LastSuccessfulId, 10),
			strconv.FormatInt(st.Lag, 10),
			strconv.Itoa(st.FailCount),
			ago(st.LastRetry, now),
			ago(st.LastSuccessfulPublished, now),
		})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color(COLOR_GREY))).
		Headers("INSTANCE", "CURSOR", "LAG", "FAILS", "LAST RETRY", "LAST DELIVERED").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case stats[row].FailCount > 0:
				return failingStyle
			case stats[row].Lag > 0:
				return laggingStyle
			default:
				return cellStyle
			}
		})
	return t.Render()
}
