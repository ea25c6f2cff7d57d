package views

import (
	"fmt"

	"github.com/rivo/tview"

	"github.com/matheus3301/chatsync/internal/tui/model"
)

// MessageView displays the loaded history of the open conversation.
type MessageView struct {
	*tview.TextView
	name string
}

// NewMessageView creates a new message view.
func NewMessageView() *MessageView {
	tv := tview.NewTextView().
		SetDynamicColors(true).
		SetScrollable(true).
		SetWordWrap(true)
	tv.SetBorder(true).SetTitle(" Messages ")

	return &MessageView{TextView: tv}
}

// SetConversationName updates the border title.
func (mv *MessageView) SetConversationName(name string) {
	mv.name = name
	mv.SetTitle(fmt.Sprintf(" %s ", tview.Escape(sanitizeForTerminal(name))))
}

// Update renders msgs, oldest first. hasMore adds a hint for loading older
// history at the top.
func (mv *MessageView) Update(msgs []model.Message, me string, hasMore bool) {
	mv.Clear()

	if hasMore {
		_, _ = fmt.Fprint(mv, "[::d]-- o: load older --[-:-:-]\n\n")
	}
	for _, m := range msgs {
		sender := m.SenderID
		if m.SenderID == me {
			sender = "You"
		}
		_, _ = fmt.Fprintf(mv, "[::b]%s[-:-:-] [::d]%s %s[-:-:-]\n%s\n\n",
			tview.Escape(sanitizeForTerminal(sender)),
			formatTimestamp(m.At),
			statusLabel(m),
			tview.Escape(sanitizeForTerminal(m.Content)))
	}

	mv.ScrollToEnd()
}

func statusLabel(m model.Message) string {
	switch {
	case m.Failed:
		return "[red]failed: " + tview.Escape(m.Reason) + " (r: retry)[-]"
	case m.Pending:
		return "sending"
	default:
		return m.Status
	}
}
