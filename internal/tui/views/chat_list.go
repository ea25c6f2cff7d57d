package views

import (
	"fmt"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/matheus3301/chatsync/internal/tui/model"
)

// ChatList is the conversation table.
type ChatList struct {
	*tview.Table
	convs []model.Conversation
}

// NewChatList creates a new conversation table.
func NewChatList() *ChatList {
	table := tview.NewTable().
		SetSelectable(true, false).
		SetBorders(false).
		SetFixed(1, 0)
	table.SetBorder(true).SetTitle(" Conversations ")

	return &ChatList{Table: table}
}

// Update refreshes the rows and the unread count in the border title.
func (cl *ChatList) Update(convs []model.Conversation, unread int64) {
	cl.convs = convs
	cl.Clear()

	cl.SetCell(0, 0, tview.NewTableCell("  ").SetSelectable(false))
	cl.SetCell(0, 1, tview.NewTableCell(" Name").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))
	cl.SetCell(0, 2, tview.NewTableCell(" Last Message").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))
	cl.SetCell(0, 3, tview.NewTableCell(" Time").SetSelectable(false).SetTextColor(tview.Styles.SecondaryTextColor))

	for i, c := range convs {
		row := i + 1
		marker := " "
		attrs := tcell.AttrNone
		if c.Unread {
			marker = "[green]●[-]"
			attrs = tcell.AttrBold
		}
		name := tview.Escape(sanitizeForTerminal(c.Title))
		if c.Online > 0 {
			name += fmt.Sprintf(" [green](%d)[-]", c.Online)
		}

		cl.SetCell(row, 0, tview.NewTableCell(" "+marker))
		cl.SetCell(row, 1, tview.NewTableCell(" "+name).SetMaxWidth(30).SetExpansion(1).SetAttributes(attrs))
		cl.SetCell(row, 2, tview.NewTableCell(" "+tview.Escape(sanitizeForTerminal(c.Preview))).SetMaxWidth(40).SetExpansion(2))
		cl.SetCell(row, 3, tview.NewTableCell(" "+formatTimestamp(c.At)).SetMaxWidth(12))
	}

	title := " Conversations "
	if b := Badge(unread); b != "" {
		title = fmt.Sprintf(" Conversations [%s unread] ", b)
	}
	cl.SetTitle(title)
}

// SelectedConversation returns the id of the highlighted row.
func (cl *ChatList) SelectedConversation() string {
	row, _ := cl.GetSelection()
	idx := row - 1
	if idx >= 0 && idx < len(cl.convs) {
		return cl.convs[idx].ID
	}
	return ""
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	t = t.Local()
	now := time.Now()
	if t.Year() == now.Year() && t.YearDay() == now.YearDay() {
		return t.Format("15:04")
	}
	return t.Format("01/02")
}
