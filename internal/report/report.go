// Package report renders settlements and stats for terminals and files.
package report

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/olekukonko/tablewriter"

	"github.com/susu3304/pokerdues/internal/game"
	"github.com/susu3304/pokerdues/internal/stats"
)

// RenderSettlement writes the payments as a table. When original is not
// empty it is printed first as the settlement before the host expense.
func RenderSettlement(w io.Writer, original, final []game.Transaction) error {
	if len(original) > 0 {
		if _, err := io.WriteString(w, "Before expense:\n"); err != nil {
			return err
		}
		transactionTable(w, original).Render()
		if _, err := io.WriteString(w, "\nAfter expense:\n"); err != nil {
			return err
		}
	}
	if len(final) == 0 {
		_, err := io.WriteString(w, "Nobody owes anything.\n")
		return err
	}
	transactionTable(w, final).Render()
	return nil
}

func transactionTable(w io.Writer, txs []game.Transaction) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"From", "To", "Amount"})
	table.SetColumnAlignment([]int{tablewriter.ALIGN_LEFT, tablewriter.ALIGN_LEFT, tablewriter.ALIGN_RIGHT})
	for _, t := range txs {
		table.Append([]string{t.PayFrom, t.PayTo, game.FormatAmount(t.Amount)})
	}
	return table
}

// RenderYearTotals writes per-player summaries for the year.
func RenderYearTotals(w io.Writer, year int, summaries []stats.Summary) error {
	if _, err := fmt.Fprintf(w, "Stats for %d\n", year); err != nil {
		return err
	}
	if len(summaries) == 0 {
		_, err := io.WriteString(w, "No games settled yet.\n")
		return err
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Player", "Games", "Total", "Mean", "Median", "Best", "Worst"})
	table.SetAlignment(tablewriter.ALIGN_RIGHT)
	for _, s := range summaries {
		table.Append([]string{
			s.PlayerName,
			strconv.Itoa(s.Games),
			game.FormatAmount(s.TotalNet),
			game.FormatAmount(s.Mean),
			game.FormatAmount(s.Median),
			game.FormatAmount(s.Best),
			game.FormatAmount(s.Worst),
		})
	}
	table.Render()
	return nil
}

type statRow struct {
	GameID    string  `csv:"game_id"`
	Date      string  `csv:"date"`
	Player    string  `csv:"player"`
	NetAmount float64 `csv:"net_amount"`
}

// ExportStatsCSV writes one line per stats record with a header row.
func ExportStatsCSV(w io.Writer, records []stats.Record) error {
	rows := make([]*statRow, len(records))
	for k, r := range records {
		rows[k] = &statRow{
			GameID:    r.GameID.String(),
			Date:      r.Date.UTC().Format(time.RFC3339),
			Player:    r.PlayerName,
			NetAmount: r.NetAmount,
		}
	}
	if err := gocsv.Marshal(&rows, w); err != nil {
		return fmt.Errorf("failed to write stats csv: %w", err)
	}
	return nil
}
