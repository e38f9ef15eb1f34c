package ui

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/iconidentify/streamfetch/internal/service"
)

// showDialog places p centred over the dashboard.
func (a *App) showDialog(name string, p tview.Primitive, width, height int) {
	centred := tview.NewFlex().
		AddItem(nil, 0, 1, false).
		AddItem(tview.NewFlex().SetDirection(tview.FlexRow).
			AddItem(nil, 0, 1, false).
			AddItem(p, height, 0, true).
			AddItem(nil, 0, 1, false), width, 0, true).
		AddItem(nil, 0, 1, false)
	a.pages.AddPage(name, centred, true, true)
	a.app.SetFocus(p)
}

func (a *App) closeDialog(name string) {
	a.pages.RemovePage(name)
	a.app.SetFocus(a.jobsTable)
}

// openSubmitForm asks for a URL and queues it.
func (a *App) openSubmitForm() {
	const page = "submit"

	form := tview.NewForm()
	urlInput := tview.NewInputField().SetLabel("URL").SetFieldWidth(60)
	qualityInput := tview.NewInputField().SetLabel("Max height").SetFieldWidth(6).
		SetAcceptanceFunc(tview.InputFieldInteger)
	audioOnly := tview.NewCheckbox().SetLabel("Audio only")
	requiresAuth := tview.NewCheckbox().SetLabel("Use session")

	form.AddFormItem(urlInput)
	form.AddFormItem(qualityInput)
	form.AddFormItem(audioOnly)
	form.AddFormItem(requiresAuth)

	submit := func() {
		req := service.SubmitRequest{
			URL:          strings.TrimSpace(urlInput.GetText()),
			AudioOnly:    audioOnly.IsChecked(),
			RequiresAuth: requiresAuth.IsChecked(),
		}
		if req.URL == "" {
			a.setStatus("[red]URL is required")
			return
		}
		if q, err := strconv.Atoi(qualityInput.GetText()); err == nil {
			req.Quality = q
		}
		a.closeDialog(page)

		go func() {
			ctx, cancel := context.WithTimeout(a.ctx, 3*time.Minute)
			defer cancel()

			a.updateStatusBar("Expanding " + truncateString(req.URL, 60) + "...")
			resp, err := a.client.Submit(ctx, req)
			if err != nil {
				a.updateStatusBar(fmt.Sprintf("[red]Submit failed: %v", err))
				return
			}
			a.updateStatusBar("[green]" + resp.Message)
		}()
	}

	form.AddButton("Queue", submit)
	form.AddButton("Cancel", func() { a.closeDialog(page) })
	form.SetBorder(true).SetTitle(" Add URL ")
	form.SetCancelFunc(func() { a.closeDialog(page) })

	a.showDialog(page, form, 80, 13)
}

// openImportForm asks for a cookies.txt path and uploads it.
func (a *App) openImportForm() {
	const page = "import"

	defaultPath := "cookies.txt"
	if home, err := os.UserHomeDir(); err == nil {
		defaultPath = filepath.Join(home, "cookies.txt")
	}

	form := tview.NewForm()
	pathInput := tview.NewInputField().SetLabel("File").SetText(defaultPath).SetFieldWidth(60)
	form.AddFormItem(pathInput)

	form.AddButton("Import", func() {
		path := strings.TrimSpace(pathInput.GetText())
		a.closeDialog(page)

		go func() {
			raw, err := os.ReadFile(path)
			if err != nil {
				a.updateStatusBar(fmt.Sprintf("[red]Read %s: %v", path, err))
				return
			}
			ctx, cancel := context.WithTimeout(a.ctx, 30*time.Second)
			defer cancel()

			status, err := a.client.ImportCookies(ctx, string(raw))
			if err != nil {
				a.updateStatusBar(fmt.Sprintf("[red]Import failed: %v", err))
				return
			}
			a.updateStatusBar(fmt.Sprintf("[green]Session imported (%d cookies)", status.CookieCount))
		}()
	})
	form.AddButton("Cancel", func() { a.closeDialog(page) })
	form.SetBorder(true).SetTitle(" Import cookies.txt ")
	form.SetCancelFunc(func() { a.closeDialog(page) })

	a.showDialog(page, form, 80, 7)
}

// cancelSelectedJob cancels the job under the cursor.
func (a *App) cancelSelectedJob() {
	id := a.selectedJobID()
	if id == "" {
		a.setStatus("[yellow]No job selected")
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(a.ctx, 20*time.Second)
		defer cancel()

		if err := a.client.CancelJob(ctx, id); err != nil {
			a.updateStatusBar(fmt.Sprintf("[red]Cancel failed: %v", err))
			return
		}
		a.updateStatusBar(fmt.Sprintf("[green]Cancelled %s", id))
	}()
}

// retrySelectedJob queues the selected failed or cancelled job again.
func (a *App) retrySelectedJob() {
	job, ok := a.state.job(a.selectedJobID())
	if !ok {
		a.setStatus("[yellow]No job selected")
		return
	}
	if !job.CanRetry() {
		a.setStatus(fmt.Sprintf("[yellow]Job is %s; only failed or cancelled jobs can be retried", job.State))
		return
	}
	id := job.ID
	go func() {
		ctx, cancel := context.WithTimeout(a.ctx, 20*time.Second)
		defer cancel()

		resp, err := a.client.RetryJob(ctx, id)
		if err != nil {
			a.updateStatusBar(fmt.Sprintf("[red]Retry failed: %v", err))
			return
		}
		a.updateStatusBar(fmt.Sprintf("[green]Retrying %s as %s", id, resp.JobIDs[0]))
	}()
}

// cancelSelectedGroup asks before cancelling the selected job's playlist.
func (a *App) cancelSelectedGroup() {
	job, ok := a.state.job(a.selectedJobID())
	if !ok || job.GroupID == "" {
		a.setStatus("[yellow]Selected job is not part of a playlist")
		return
	}

	const page = "cancel-group"
	groupID := job.GroupID
	modal := tview.NewModal().
		SetText(fmt.Sprintf("Cancel every unfinished job in playlist %s?", groupID)).
		AddButtons([]string{"Cancel playlist", "Keep"}).
		SetDoneFunc(func(buttonIndex int, buttonLabel string) {
			a.closeDialog(page)
			if buttonIndex != 0 {
				return
			}
			go func() {
				ctx, cancel := context.WithTimeout(a.ctx, 20*time.Second)
				defer cancel()

				if err := a.client.CancelGroup(ctx, groupID); err != nil {
					a.updateStatusBar(fmt.Sprintf("[red]Cancel failed: %v", err))
					return
				}
				a.updateStatusBar(fmt.Sprintf("[green]Cancelled playlist %s", groupID))
			}()
		})
	a.pages.AddPage(page, modal, true, true)
	a.app.SetFocus(modal)
}

// beginLogin starts a browser cookie capture on the server.
func (a *App) beginLogin() {
	ctx, cancel := context.WithTimeout(a.ctx, 20*time.Second)
	defer cancel()

	if err := a.client.BeginLogin(ctx); err != nil {
		a.updateStatusBar(fmt.Sprintf("[red]Login failed: %v", err))
		return
	}
	a.updateStatusBar("[yellow]Capturing browser session...")
}

// confirmLogout asks before discarding the server's session.
func (a *App) confirmLogout() {
	const page = "logout"
	modal := tview.NewModal().
		SetText("Log out and delete the stored session?").
		AddButtons([]string{"Log out", "Keep"}).
		SetDoneFunc(func(buttonIndex int, buttonLabel string) {
			a.closeDialog(page)
			if buttonIndex != 0 {
				return
			}
			go func() {
				ctx, cancel := context.WithTimeout(a.ctx, 20*time.Second)
				defer cancel()

				if err := a.client.Logout(ctx); err != nil {
					a.updateStatusBar(fmt.Sprintf("[red]Logout failed: %v", err))
					return
				}
				a.updateStatusBar("[green]Logged out")
			}()
		})
	modal.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyEscape {
			a.closeDialog(page)
			return nil
		}
		return event
	})
	a.pages.AddPage(page, modal, true, true)
	a.app.SetFocus(modal)
}
