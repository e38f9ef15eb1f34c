package ui

import (
	"fmt"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/iconidentify/streamfetch/internal/domain"
)

const recentEventLimit = 30

// createDashboardPanel creates the jobs table and the side panes.
func (a *App) createDashboardPanel() {
	a.jobsTable = tview.NewTable().
		SetBorders(false).
		SetSelectable(true, false).
		SetFixed(1, 0)
	a.jobsTable.SetBorder(true).SetTitle(" Jobs - 'c' cancel, 't' retry, 'g' cancel group ")
	a.jobsTable.SetSelectedStyle(tcell.StyleDefault.
		Foreground(tcell.ColorWhite).
		Background(tcell.ColorDarkCyan))
	a.jobsTable.SetSelectionChangedFunc(func(row, column int) {
		a.renderGroup()
	})

	// Header row
	headers := []string{"STATE", "TITLE", "PROGRESS", "SPEED", "ETA", "TRY"}
	for i, h := range headers {
		cell := tview.NewTableCell(h).
			SetTextColor(tcell.ColorYellow).
			SetSelectable(false).
			SetExpansion(1)
		if i == 1 {
			cell.SetExpansion(3)
		}
		a.jobsTable.SetCell(0, i, cell)
	}

	// Session box
	a.authBox = tview.NewTextView().
		SetDynamicColors(true)
	a.authBox.SetBorder(true).SetTitle(" Session ")

	// Group box
	a.groupBox = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	a.groupBox.SetBorder(true).SetTitle(" Playlist ")

	// Events box
	a.eventsBox = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	a.eventsBox.SetBorder(true).SetTitle(" Recent Events ")

	side := tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(a.authBox, 8, 0, false).
		AddItem(a.groupBox, 0, 1, false).
		AddItem(a.eventsBox, 0, 2, false)

	a.dashboard = tview.NewFlex().
		AddItem(a.jobsTable, 0, 3, true).
		AddItem(side, 0, 2, false)
}

// render repaints every pane from the model. Runs on the UI goroutine.
func (a *App) render() {
	a.renderJobs()
	a.renderAuth()
	a.renderGroup()
	a.renderEvents()
}

func (a *App) renderJobs() {
	selected := a.selectedJobID()

	jobs := a.state.jobList()
	for row := a.jobsTable.GetRowCount() - 1; row > len(jobs); row-- {
		a.jobsTable.RemoveRow(row)
	}

	for i, job := range jobs {
		row := i + 1
		color := tcell.GetColor(stateColor(job.State))

		progress, speed, eta := "", "-", "-"
		if p := job.LastProgress; p != nil {
			progress = progressBar(p.Percent(), 20)
			if job.State.IsActive() {
				speed = formatRate(p.Rate)
				eta = formatETA(p.ETA)
			}
		}
		if job.State == domain.JobStateSucceeded {
			progress = progressBar(100, 20)
		}
		if job.Failure != nil && job.State.IsTerminal() {
			progress = truncateString(job.Failure.Message, 40)
		}

		a.jobsTable.SetCell(row, 0, tview.NewTableCell(string(job.State)).
			SetTextColor(color).
			SetReference(job.ID))
		a.jobsTable.SetCell(row, 1, tview.NewTableCell(truncateString(jobLabel(job), 60)).SetExpansion(3))
		a.jobsTable.SetCell(row, 2, tview.NewTableCell(progress).SetExpansion(1))
		a.jobsTable.SetCell(row, 3, tview.NewTableCell(speed).SetExpansion(1))
		a.jobsTable.SetCell(row, 4, tview.NewTableCell(eta).SetExpansion(1))
		a.jobsTable.SetCell(row, 5, tview.NewTableCell(fmt.Sprintf("%d/%d", job.Attempts, job.MaxAttempts)).SetExpansion(1))

		if job.ID == selected {
			a.jobsTable.Select(row, 0)
		}
	}
}

func (a *App) renderAuth() {
	status := a.state.authStatus()

	var b strings.Builder
	b.WriteString(fmt.Sprintf("[white::b]State:[white] [%s]%s[white]\n", authColor(status.State), status.State))
	if status.Source != "" {
		b.WriteString(fmt.Sprintf("[white::b]Source:[white] %s\n", status.Source))
	}
	if status.CookieCount > 0 {
		b.WriteString(fmt.Sprintf("[white::b]Cookies:[white] %d\n", status.CookieCount))
	}
	if !status.ExpiresAt.IsZero() {
		b.WriteString(fmt.Sprintf("[white::b]Expires:[white] %s\n", status.ExpiresAt.Local().Format("2006-01-02 15:04")))
	}
	if status.ReauthRequired {
		b.WriteString("[red]Sign in again: press 'l' or 'i'[white]\n")
	}
	if status.LastError != "" {
		b.WriteString(fmt.Sprintf("[red]%s[white]\n", truncateString(status.LastError, 80)))
	}
	a.authBox.SetText(b.String())
}

func (a *App) renderGroup() {
	job, ok := a.state.job(a.selectedJobID())
	if !ok || job.GroupID == "" {
		a.groupBox.SetText("[gray]Selected job is not part of a playlist[white]")
		return
	}
	group, ok := a.state.group(job.GroupID)
	if !ok {
		a.groupBox.SetText(fmt.Sprintf("[gray]Group %s not loaded yet[white]", job.GroupID))
		return
	}

	c := group.Counters
	var b strings.Builder
	title := group.Title
	if title == "" {
		title = group.SourceURL
	}
	b.WriteString(fmt.Sprintf("[white::b]%s[white]\n\n", truncateString(title, 60)))
	b.WriteString(fmt.Sprintf("Total: %d  Skipped: %d\n", c.Total, c.Skipped))
	b.WriteString(fmt.Sprintf("[green]Running: %d[white]  Queued: %d\n", c.Running, c.Queued))
	b.WriteString(fmt.Sprintf("[aqua]Done: %d[white]  [red]Failed: %d[white]  [gray]Cancelled: %d[white]\n", c.Succeeded, c.Failed, c.Cancelled))
	if c.Terminal() {
		b.WriteString("\n[green]Playlist finished[white]\n")
	}
	if len(group.SkippedEntries) > 0 {
		b.WriteString("\n[yellow]Skipped:[white]\n")
		for _, s := range group.SkippedEntries {
			label := s.Title
			if label == "" {
				label = s.SourceID
			}
			b.WriteString(fmt.Sprintf("  %s [gray](%s)[white]\n", truncateString(label, 40), s.Reason))
		}
	}
	a.groupBox.SetText(b.String())
}

func (a *App) renderEvents() {
	events := a.state.recentEvents(recentEventLimit)
	if len(events) == 0 {
		a.eventsBox.SetText("[gray]No events yet[white]")
		return
	}

	var b strings.Builder
	for _, e := range events {
		msg := e.Message
		if msg == "" {
			msg = string(e.Kind)
		}
		b.WriteString(fmt.Sprintf("[gray]%s[white] [%s]%s[white]\n",
			e.Timestamp.Local().Format("15:04:05"), severityColor(e.Severity), truncateString(msg, 70)))
	}
	a.eventsBox.SetText(b.String())
}

// selectedJobID returns the job under the table cursor, or "".
func (a *App) selectedJobID() domain.JobID {
	row, _ := a.jobsTable.GetSelection()
	if row <= 0 {
		return ""
	}
	cell := a.jobsTable.GetCell(row, 0)
	if cell == nil {
		return ""
	}
	id, _ := cell.GetReference().(domain.JobID)
	return id
}
