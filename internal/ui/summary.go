package ui

import (
	"fmt"
	"time"

	"github.com/BioHazard786/Pairline/internal/utils"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// CallSummary is printed after a call ends.
type CallSummary struct {
	RoomID    string
	Peer      string
	Outcome   string
	Connected time.Duration
	Total     time.Duration
}

// CallSummaryView renders the summary as a two-column table.
func CallSummaryView(s CallSummary) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.Style().Color.Header = text.Colors{text.Bold, text.FgHiGreen}
	t.Style().Options.SeparateRows = false

	t.AppendHeader(table.Row{"Metric", "Value"})
	t.AppendRows([]table.Row{
		{"Room", s.RoomID},
		{"Peer", s.Peer},
		{"Outcome", s.Outcome},
		{"Talk time", utils.FormatDuration(s.Connected)},
		{"Total", utils.FormatDuration(s.Total)},
	})
	return t.Render()
}

func RenderCallSummary(s CallSummary) {
	fmt.Println(CallSummaryView(s))
}
