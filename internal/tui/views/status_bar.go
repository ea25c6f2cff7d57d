package views

import (
	"fmt"
	"time"

	"github.com/rivo/tview"
)

// StatusBar displays the session, connection state and unread badge.
type StatusBar struct {
	*tview.TextView
	session string
	state   string
	unread  int64
	hints   string
	flash   string
	isErr   bool
}

// NewStatusBar creates a new status bar.
func NewStatusBar() *StatusBar {
	tv := tview.NewTextView().
		SetDynamicColors(true)
	tv.SetBackgroundColor(tview.Styles.MoreContrastBackgroundColor)

	return &StatusBar{TextView: tv}
}

// SetSession updates the session name display.
func (sb *StatusBar) SetSession(name string) {
	sb.session = name
	sb.render()
}

// SetState updates the connection state display.
func (sb *StatusBar) SetState(state string) {
	sb.state = state
	sb.render()
}

// SetUnread updates the unread badge.
func (sb *StatusBar) SetUnread(n int64) {
	sb.unread = n
	sb.render()
}

// SetHints sets the key hints for the current page.
func (sb *StatusBar) SetHints(hints string) {
	sb.hints = hints
	sb.render()
}

// SetFlash sets a temporary message; errors render in red.
func (sb *StatusBar) SetFlash(msg string, isErr bool) {
	sb.flash = msg
	sb.isErr = isErr
	sb.render()
}

func (sb *StatusBar) render() {
	sb.Clear()

	state := sb.state
	if state == "CONNECTED" {
		state = "[green]" + state + "[-]"
	} else if state != "" {
		state = "[yellow]" + state + "[-]"
	}

	line := fmt.Sprintf(" [::b]%s[-:-:-] | %s", sb.session, state)
	if b := Badge(sb.unread); b != "" {
		line += fmt.Sprintf(" | [black:green] %s [-:-]", b)
	}
	line += " | " + time.Now().Format("15:04")
	if sb.hints != "" {
		line += " | [::d]" + sb.hints + "[-:-:-]"
	}
	if sb.flash != "" {
		color := "yellow"
		if sb.isErr {
			color = "red"
		}
		line += fmt.Sprintf(" | [%s]%s[-]", color, tview.Escape(sb.flash))
	}

	_, _ = fmt.Fprint(sb, line)
}
