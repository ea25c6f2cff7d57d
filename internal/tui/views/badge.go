package views

import (
	"fmt"

	"github.com/rivo/tview"
)

// Badge renders the unread count for the navigation bar. Zero renders empty.
func Badge(n int64) string {
	switch {
	case n <= 0:
		return ""
	case n > 99:
		return "99+"
	default:
		return fmt.Sprintf("%d", n)
	}
}

// TitleLine renders the window title: "(n) chatsync - session", with the
// count only when something is unread.
func TitleLine(session string, n int64) string {
	title := "chatsync - " + session
	if b := Badge(n); b != "" {
		title = fmt.Sprintf("(%s) %s", b, title)
	}
	return title
}

// Title is the top line of the screen.
type Title struct {
	*tview.TextView
	session string
}

// NewTitle creates the title line for session.
func NewTitle(session string) *Title {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetTextAlign(tview.AlignCenter)
	t := &Title{TextView: tv, session: session}
	t.SetUnread(0)
	return t
}

// SetUnread re-renders the title with n unread conversations.
func (t *Title) SetUnread(n int64) {
	t.SetText("[::b]" + tview.Escape(TitleLine(t.session, n)) + "[-:-:-]")
}
