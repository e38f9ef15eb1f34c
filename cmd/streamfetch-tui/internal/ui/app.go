// Package ui provides the terminal user interface for streamfetch.
package ui

import (
	"context"
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/iconidentify/streamfetch/cmd/streamfetch-tui/internal/client"
	"github.com/iconidentify/streamfetch/cmd/streamfetch-tui/internal/config"
	"github.com/iconidentify/streamfetch/internal/domain"
)

// redrawInterval caps how often streamed events repaint the screen.
const redrawInterval = 150 * time.Millisecond

// App is the main TUI application.
type App struct {
	app    *tview.Application
	pages  *tview.Pages
	cfg    *config.Config
	client *client.Client
	state  *model
	ctx    context.Context
	cancel context.CancelFunc
	dirty  chan struct{}

	// UI components
	mainFlex   *tview.Flex
	header     *tview.TextView
	footer     *tview.TextView
	statusBar  *tview.TextView
	jobsTable  *tview.Table
	authBox    *tview.TextView
	groupBox   *tview.TextView
	eventsBox  *tview.TextView
	helpView   *tview.TextView
	dashboard  *tview.Flex
	streamLive bool
}

// NewApp creates a new TUI application.
func NewApp(cfg *config.Config) (*App, error) {
	if cfg.ServerURL == "" {
		return nil, fmt.Errorf("server URL is required")
	}
	ctx, cancel := context.WithCancel(context.Background())

	a := &App{
		app:    tview.NewApplication(),
		pages:  tview.NewPages(),
		cfg:    cfg,
		client: client.NewClient(cfg.ServerURL, cfg.APIKey),
		state:  newModel(cfg.MaxEvents),
		ctx:    ctx,
		cancel: cancel,
		dirty:  make(chan struct{}, 1),
	}

	a.setupUI()
	return a, nil
}

// setupUI initializes all UI components.
func (a *App) setupUI() {
	// Header
	a.header = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)
	a.header.SetBackgroundColor(tcell.ColorDarkBlue)
	a.updateHeader()

	// Footer with keybindings
	a.footer = tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter).
		SetText("[yellow]a[white]:Add URL [yellow]c[white]:Cancel job [yellow]t[white]:Retry job [yellow]g[white]:Cancel group [yellow]i[white]:Import cookies [yellow]l[white]:Login [yellow]o[white]:Logout [yellow]r[white]:Refresh [yellow]?[white]:Help [yellow]q[white]:Quit")
	a.footer.SetBackgroundColor(tcell.ColorDarkBlue)

	// Status bar
	a.statusBar = tview.NewTextView().
		SetDynamicColors(true)
	a.statusBar.SetBackgroundColor(tcell.ColorDarkGreen)

	// Create panels
	a.createDashboardPanel()
	a.createHelpPanel()

	a.pages.AddPage("dashboard", a.dashboard, true, true)
	a.pages.AddPage("help", a.helpView, true, false)

	// Main layout
	a.mainFlex = tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(a.header, 3, 0, false).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.statusBar, 1, 0, false).
		AddItem(a.footer, 1, 0, false)

	// Global key bindings
	a.app.SetInputCapture(a.handleGlobalKeys)

	a.app.SetRoot(a.mainFlex, true)
	a.app.SetFocus(a.jobsTable)
}

// handleGlobalKeys handles global keyboard shortcuts.
func (a *App) handleGlobalKeys(event *tcell.EventKey) *tcell.EventKey {
	// Dialogs own the keyboard while open.
	if name, _ := a.pages.GetFrontPage(); name != "dashboard" && name != "help" {
		return event
	}

	switch event.Key() {
	case tcell.KeyRune:
		switch event.Rune() {
		case '?':
			a.pages.SwitchToPage("help")
			return nil
		case 'q', 'Q':
			a.Stop()
			return nil
		case 'r', 'R':
			go a.refresh()
			return nil
		case 'a', 'A':
			a.openSubmitForm()
			return nil
		case 'c', 'C':
			a.cancelSelectedJob()
			return nil
		case 't', 'T':
			a.retrySelectedJob()
			return nil
		case 'g', 'G':
			a.cancelSelectedGroup()
			return nil
		case 'i', 'I':
			a.openImportForm()
			return nil
		case 'l', 'L':
			go a.beginLogin()
			return nil
		case 'o', 'O':
			a.confirmLogout()
			return nil
		}
	case tcell.KeyEscape:
		a.pages.SwitchToPage("dashboard")
		a.app.SetFocus(a.jobsTable)
		return nil
	}

	return event
}

// updateHeader shows the server and stream state.
func (a *App) updateHeader() {
	stream := "[red]offline"
	if a.streamLive {
		stream = "[green]live"
	}
	a.header.SetText(fmt.Sprintf("\n[white::b]streamfetch[white] | Server: [green]%s[white] | Events: %s",
		a.cfg.ServerURL, stream))
}

// updateStatusBar updates the status bar from a background goroutine.
func (a *App) updateStatusBar(msg string) {
	a.app.QueueUpdateDraw(func() {
		a.setStatus(msg)
	})
}

// setStatus updates the status bar from the UI goroutine.
func (a *App) setStatus(msg string) {
	a.statusBar.SetText(fmt.Sprintf(" %s | %s", msg, time.Now().Format("15:04:05")))
}

// Run starts the TUI application.
func (a *App) Run() error {
	go a.renderLoop()
	go a.followEvents()
	go a.startBackgroundRefresh()

	return a.app.Run()
}

// Stop stops the TUI application.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}

// markDirty requests a repaint without blocking the caller.
func (a *App) markDirty() {
	select {
	case a.dirty <- struct{}{}:
	default:
	}
}

// renderLoop repaints at most once per redrawInterval.
func (a *App) renderLoop() {
	for {
		select {
		case <-a.ctx.Done():
			return
		case <-a.dirty:
			a.app.QueueUpdateDraw(a.render)
			time.Sleep(redrawInterval)
		}
	}
}

// followEvents keeps the event stream open, reloading a full snapshot on
// every reconnect so nothing missed while offline goes unseen.
func (a *App) followEvents() {
	for {
		a.refresh()
		a.setStreamLive(true)
		err := a.client.Follow(a.ctx, func(e domain.Event) {
			a.state.apply(e)
			a.markDirty()
		})
		a.setStreamLive(false)
		if a.ctx.Err() != nil {
			return
		}
		a.updateStatusBar(fmt.Sprintf("[yellow]Event stream lost (%v), reconnecting", err))

		select {
		case <-a.ctx.Done():
			return
		case <-time.After(a.cfg.ReconnectDelay):
		}
	}
}

func (a *App) setStreamLive(live bool) {
	a.app.QueueUpdateDraw(func() {
		a.streamLive = live
		a.updateHeader()
	})
}

// startBackgroundRefresh reloads the snapshot periodically in case an event
// was coalesced away.
func (a *App) startBackgroundRefresh() {
	ticker := time.NewTicker(a.cfg.StatusRefresh)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			a.refresh()
		}
	}
}

// refresh loads jobs, groups and session state from the server.
func (a *App) refresh() {
	ctx, cancel := context.WithTimeout(a.ctx, 20*time.Second)
	defer cancel()

	jobs, err := a.client.Jobs(ctx)
	if err != nil {
		a.updateStatusBar(fmt.Sprintf("[red]Error: %v", err))
		return
	}
	groups, err := a.client.Groups(ctx)
	if err != nil {
		a.updateStatusBar(fmt.Sprintf("[red]Error: %v", err))
		return
	}
	auth, err := a.client.AuthStatus(ctx)
	if err != nil {
		a.updateStatusBar(fmt.Sprintf("[red]Error: %v", err))
		return
	}

	a.state.reset(jobs, groups, *auth)
	a.markDirty()

	counts := a.state.counts()
	a.updateStatusBar(fmt.Sprintf("[green]%d job(s)[white], %d running, %d queued",
		len(jobs), counts[domain.JobStateRunning]+counts[domain.JobStateRetrying], counts[domain.JobStateQueued]))
}
