// Package report renders the leaderboard and agent performance as console
// tables.
package report

import (
	"fmt"
	"io"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/agentmarket/internal/service"
)

// Console writes report tables to out.
type Console struct {
	out io.Writer
}

// NewConsole creates a Console writing to out.
func NewConsole(out io.Writer) *Console {
	return &Console{out: out}
}

// Write prints the leaderboard followed by the performance summary.
func (c *Console) Write(at time.Time, board []service.LeaderboardEntry, perfs []service.AgentPerformance) error {
	fmt.Fprintf(c.out, "\nAgent market report, %s\n", at.UTC().Format(time.RFC3339))
	fmt.Fprintf(c.out, "%d agents\n\n", len(board))

	if err := c.Leaderboard(board); err != nil {
		return err
	}
	fmt.Fprintln(c.out)
	return c.Performance(perfs)
}

// Leaderboard prints one row per ranked agent.
func (c *Console) Leaderboard(board []service.LeaderboardEntry) error {
	table := tablewriter.NewWriter(c.out)
	table.Header("#", "Agent", "Balance", "PnL", "Trades", "Markets")

	for _, e := range board {
		if err := table.Append(
			fmt.Sprintf("%d", e.Rank),
			e.Name,
			e.Balance.StringFixed(2),
			signed(e.PnL),
			fmt.Sprintf("%d", e.TradeCount),
			fmt.Sprintf("%d", e.MarketsCreated),
		); err != nil {
			return fmt.Errorf("report: leaderboard row: %w", err)
		}
	}
	if err := table.Render(); err != nil {
		return fmt.Errorf("report: render leaderboard: %w", err)
	}
	return nil
}

// Performance prints a one-line summary of every agent's balance history:
// the number of balance changes, the lowest and highest balance reached, and
// the balance now.
func (c *Console) Performance(perfs []service.AgentPerformance) error {
	table := tablewriter.NewWriter(c.out)
	table.Header("Agent", "Points", "Low", "High", "Current", "Last change")

	for _, p := range perfs {
		low, high := p.CurrentBalance, p.CurrentBalance
		last := "-"
		for _, pt := range p.Points {
			low = decimal.Min(low, pt.Balance)
			high = decimal.Max(high, pt.Balance)
		}
		if n := len(p.Points); n > 0 {
			last = p.Points[n-1].Timestamp.UTC().Format("2006-01-02 15:04")
		}
		if err := table.Append(
			p.AgentName,
			fmt.Sprintf("%d", len(p.Points)),
			low.StringFixed(2),
			high.StringFixed(2),
			p.CurrentBalance.StringFixed(2),
			last,
		); err != nil {
			return fmt.Errorf("report: performance row: %w", err)
		}
	}
	if err := table.Render(); err != nil {
		return fmt.Errorf("report: render performance: %w", err)
	}
	return nil
}

func signed(d decimal.Decimal) string {
	if d.IsPositive() {
		return "+" + d.StringFixed(2)
	}
	return d.StringFixed(2)
}
