// Interactive scan monitor: starts a scan on a backscan server, follows its
// progress stream, and renders the ranked results live. Press q while the
// scan is running to cancel it and keep the partial results.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"backscan/internal/backtest"
	"backscan/pkg/backscan"
)

// Styles.
var (
	headerStyle = lipgloss.NewStyle().Bold(true).
			Foreground(lipgloss.Color("15")).Background(lipgloss.Color("4"))
	cancelStyle = lipgloss.NewStyle().Bold(true).
			Foreground(lipgloss.Color("0")).Background(lipgloss.Color("3"))
	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("15")).Background(lipgloss.Color("8"))
	symbolStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	gainStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	lossStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	colHeaderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	noteStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
)

// Messages.
type tickMsg time.Time

type eventMsg backscan.RunEvent

type streamClosedMsg struct{ err error }

type runDoneMsg struct {
	run *backscan.Run
	err error
}

type cancelSentMsg struct{ err error }

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

type model struct {
	client *backscan.Client
	runID  string
	events <-chan backscan.RunEvent

	status     string
	progress   backscan.RunEvent
	run        *backscan.Run
	err        error
	cancelling bool
	started    time.Time
	now        time.Time

	viewport      viewport.Model
	ready         bool
	width, height int
}

func initialModel(client *backscan.Client, runID string, events <-chan backscan.RunEvent) model {
	now := time.Now()
	return model{
		client:  client,
		runID:   runID,
		events:  events,
		status:  "running",
		started: now,
		now:     now,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(tickCmd(), waitEvent(m.events))
}

// waitEvent delivers the next SSE event; a closed channel means the server
// finished the stream.
func waitEvent(ch <-chan backscan.RunEvent) tea.Cmd {
	return func() tea.Msg {
		e, ok := <-ch
		if !ok {
			return streamClosedMsg{}
		}
		return eventMsg(e)
	}
}

func (m model) fetchRun() tea.Cmd {
	client, runID := m.client, m.runID
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		run, err := client.GetRun(ctx, runID)
		return runDoneMsg{run: run, err: err}
	}
}

func (m model) sendCancel() tea.Cmd {
	client, runID := m.client, m.runID
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return cancelSentMsg{err: client.CancelRun(ctx, runID)}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			if m.run != nil || m.err != nil {
				return m, tea.Quit
			}
			if !m.cancelling {
				m.cancelling = true
				return m, m.sendCancel()
			}
			// Second q while a cancel is pending: give up waiting.
			return m, tea.Quit
		case "home":
			if m.ready {
				m.viewport.GotoTop()
			}
			return m, nil
		case "end":
			if m.ready {
				m.viewport.GotoBottom()
			}
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		vpHeight := m.height - 2
		if vpHeight < 1 {
			vpHeight = 1
		}
		if !m.ready {
			m.viewport = viewport.New(m.width, vpHeight)
			m.viewport.MouseWheelEnabled = true
			m.ready = true
			m.viewport.SetContent(m.renderContent())
		} else {
			m.viewport.Width = m.width
			m.viewport.Height = vpHeight
		}
		return m, nil

	case tickMsg:
		m.now = time.Time(msg)
		if m.run == nil && m.err == nil {
			return m, tickCmd()
		}
		return m, nil

	case eventMsg:
		e := backscan.RunEvent(msg)
		switch e.Type {
		case "progress":
			if e.Progress != nil {
				m.progress = e
			}
		case "status":
			m.status = e.Status
		}
		return m, waitEvent(m.events)

	case streamClosedMsg:
		// Stream over; pull the final run state with the report.
		return m, m.fetchRun()

	case runDoneMsg:
		if msg.err != nil {
			m.err = msg.err
		} else {
			m.run = msg.run
			m.status = msg.run.Status
		}
		if m.ready {
			m.viewport.SetContent(m.renderContent())
			m.viewport.GotoTop()
		}
		return m, nil

	case cancelSentMsg:
		if msg.err != nil {
			m.err = fmt.Errorf("cancel failed: %w", msg.err)
			m.cancelling = false
		}
		return m, nil
	}

	if m.ready {
		m.viewport, cmd = m.viewport.Update(msg)
	}
	return m, cmd
}

func (m model) View() string {
	if !m.ready {
		return "Loading..."
	}

	elapsed := m.now.Sub(m.started).Round(time.Second)
	var headerText string
	style := headerStyle
	switch {
	case m.err != nil:
		headerText = fmt.Sprintf(" run %s  error: %v ", m.runID, m.err)
		style = cancelStyle
	case m.run != nil:
		headerText = fmt.Sprintf(" run %s  %s  %s ", m.runID, m.status, elapsed)
		if m.status == "cancelled" {
			style = cancelStyle
		}
	case m.cancelling:
		headerText = fmt.Sprintf(" run %s  cancelling, waiting for in-flight symbols...  %s ", m.runID, elapsed)
		style = cancelStyle
	default:
		p := m.progress.Progress
		if p != nil {
			headerText = fmt.Sprintf(" run %s  scanning %d/%d  %-8s  %s ",
				m.runID, p.Completed, p.Total, p.Symbol, elapsed)
		} else {
			headerText = fmt.Sprintf(" run %s  starting...  %s ", m.runID, elapsed)
		}
	}
	headerBar := style.Render(padOrTrunc(headerText, m.width))

	footerLeft := " q quit"
	if m.run == nil && m.err == nil {
		footerLeft = " q cancel"
	}
	footerLeft += "  up/dn/pgup/pgdn scroll  home/end jump"
	footerRight := fmt.Sprintf("%.0f%% ", m.viewport.ScrollPercent()*100)
	gap := m.width - len(footerLeft) - len(footerRight)
	if gap < 0 {
		gap = 0
	}
	footerBar := footerStyle.Render(padOrTrunc(footerLeft+strings.Repeat(" ", gap)+footerRight, m.width))

	return headerBar + "\n" + m.viewport.View() + "\n" + footerBar
}

func (m model) renderContent() string {
	if m.err != nil {
		return lossStyle.Render(fmt.Sprintf("  %v", m.err))
	}
	run := m.run
	if run == nil {
		return dimStyle.Render("  waiting for results...")
	}
	if run.Scan == nil {
		if run.Error != "" {
			return lossStyle.Render("  " + run.Error)
		}
		return dimStyle.Render("  no results")
	}

	rep := run.Scan
	var b strings.Builder
	fmt.Fprintf(&b, "  %s: %d/%d symbols, %d hits\n\n",
		rep.StrategyKey, rep.Completed, rep.Total, len(rep.Rows))

	if len(rep.Rows) > 0 {
		b.WriteString(colHeaderStyle.Render(fmt.Sprintf(
			"  %4s  %-10s  %8s  %-10s  %9s  %8s  %7s  %s",
			"RANK", "SYMBOL", "SCORE", "ENTRY", "PRICE", "RETURN", "TRADES", "NOTE")))
		b.WriteByte('\n')
		for _, r := range rep.Rows {
			entry := "-"
			if !r.EntryDate.IsZero() {
				entry = r.EntryDate.Format("2006-01-02")
			}
			ret, trades := "", ""
			var retStyle lipgloss.Style
			if r.Kpis != nil {
				ret = backtest.FormatPct(r.Kpis.ReturnPct)
				trades = backtest.FormatInt(r.Kpis.TradeCount)
				if r.Kpis.ReturnPct >= 0 {
					retStyle = gainStyle
				} else {
					retStyle = lossStyle
				}
			}
			fmt.Fprintf(&b, "  %s  %s  %8.2f  %-10s  %9s  %s  %7s  %s\n",
				dimStyle.Render(fmt.Sprintf("%4d", r.Rank)),
				symbolStyle.Render(fmt.Sprintf("%-10s", r.Symbol)),
				r.Score,
				entry,
				backtest.FormatPrice(r.EntryPrice),
				retStyle.Render(fmt.Sprintf("%8s", ret)),
				trades,
				noteStyle.Render(r.Note),
			)
		}
	}

	if s := rep.Summary; s != nil && s.TradeCount > 0 {
		fmt.Fprintf(&b, "\n  universe: %s trades, win rate %.1f%%\n",
			backtest.FormatCount(s.TradeCount), s.WinRate*100)
		for _, t := range s.Top {
			fmt.Fprintf(&b, "    %s %-10s %s\n", gainStyle.Render("+"), t.Symbol,
				gainStyle.Render(backtest.FormatPct(t.Kpis.ReturnPct)))
		}
	}
	if len(rep.Failures) > 0 {
		b.WriteByte('\n')
		for _, f := range rep.Failures {
			b.WriteString(dimStyle.Render(fmt.Sprintf("  ! %s [%s]: %s", f.Symbol, f.Stage, f.Err)))
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// padOrTrunc pads s with spaces to width, or truncates if longer.
func padOrTrunc(s string, width int) string {
	n := len(s)
	if n >= width {
		return s[:width]
	}
	return s + strings.Repeat(" ", width-n)
}

func main() {
	server := flag.String("server", "http://localhost:8080", "backscan server URL")
	strategyKey := flag.String("strategy", "", "strategy key (required)")
	symbols := flag.String("symbols", "", "comma-separated symbols")
	all := flag.Bool("all", false, "scan every symbol on the server")
	market := flag.String("market", "us", "market")
	startStr := flag.String("start", "", "range start (YYYY-MM-DD)")
	endStr := flag.String("end", "", "range end (YYYY-MM-DD)")
	flag.Parse()

	client := backscan.NewClient(*server)
	ctx := context.Background()

	if err := client.Health(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "server %s unreachable: %v\n", *server, err)
		os.Exit(1)
	}

	universe := splitSymbols(*symbols)
	if *all {
		list, err := client.Symbols(ctx, *market)
		if err != nil {
			fmt.Fprintf(os.Stderr, "listing symbols: %v\n", err)
			os.Exit(1)
		}
		universe = list
	}

	req := backscan.ScanRequest{
		StrategyKey: *strategyKey,
		Universe:    universe,
		Market:      *market,
		Start:       parseDate(*startStr),
		End:         parseDate(*endStr),
	}
	runID, err := client.StartScan(ctx, req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "starting scan: %v\n", err)
		os.Exit(1)
	}

	// Feed the SSE stream into the program. The server closes the stream
	// when the run finishes; reconnect attempts are pointless then, so the
	// channel just closes.
	events := make(chan backscan.RunEvent, 64)
	streamCtx, streamCancel := context.WithCancel(ctx)
	defer streamCancel()
	go func() {
		defer close(events)
		err := client.StreamEvents(streamCtx, runID, func(e backscan.RunEvent) {
			events <- e
		})
		if err != nil && streamCtx.Err() == nil {
			fmt.Fprintf(os.Stderr, "event stream: %v\n", err)
		}
	}()

	p := tea.NewProgram(
		initialModel(client, runID, events),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
	)
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func splitSymbols(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.ToUpper(strings.TrimSpace(part)); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseDate(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	ts, err := time.Parse("2006-01-02", s)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid date %q\n", s)
		os.Exit(1)
	}
	return ts
}
