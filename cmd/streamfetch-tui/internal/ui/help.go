package ui

import (
	"github.com/rivo/tview"
)

// createHelpPanel creates the help panel.
func (a *App) createHelpPanel() {
	a.helpView = tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true)
	a.helpView.SetBorder(true).SetTitle(" Help ")

	helpText := `[yellow::b]streamfetch - Terminal Dashboard[white]

Follows a streamfetch server over its event stream and shows download
jobs, playlist progress and the session state as they change.

[yellow::b]JOBS[white]
[cyan]Up/Down[white]      Select a job
[cyan]a[white]            Add URL        - Queue a video or playlist
[cyan]c[white]            Cancel job     - Cancel the selected job
[cyan]t[white]            Retry job      - Queue a failed or cancelled job again
[cyan]g[white]            Cancel group   - Cancel the selected job's playlist

[yellow::b]SESSION[white]
[cyan]i[white]            Import cookies - Upload a Netscape cookies.txt
[cyan]l[white]            Login          - Capture cookies from the server's browser
[cyan]o[white]            Logout         - Delete the stored session

[yellow::b]GENERAL[white]
[cyan]r[white]            Refresh        - Reload jobs, playlists and session
[cyan]?[white]            Help           - This help screen
[cyan]Escape[white]       Back           - Return to the jobs view
[cyan]q[white]            Quit           - Exit the application

[yellow::b]ENVIRONMENT[white]
[cyan]STREAMFETCH_URL[white]              Server base URL (default http://127.0.0.1:9848)
[cyan]STREAMFETCH_API_KEY[white]          API key, when the server requires one
[cyan]STREAMFETCH_STATUS_REFRESH[white]   Full reload interval (default 10s)
[cyan]STREAMFETCH_RECONNECT_DELAY[white]  Pause before reopening the event stream (default 3s)
`
	a.helpView.SetText(helpText)
}
