package views

import (
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

// Composer is the text input for the open conversation. Lines starting with
// '/' are commands rather than messages.
type Composer struct {
	*tview.InputField
	onSend    func(text string)
	onCommand func(line string)
}

// NewComposer creates a new message composer.
func NewComposer() *Composer {
	input := tview.NewInputField().
		SetLabel(" > ").
		SetFieldWidth(0).
		SetPlaceholder("message, or /older /retry /close")

	c := &Composer{InputField: input}

	input.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter {
			return
		}
		text := strings.TrimSpace(c.GetText())
		if text == "" {
			return
		}
		c.SetText("")
		if strings.HasPrefix(text, "/") {
			if c.onCommand != nil {
				c.onCommand(strings.TrimPrefix(text, "/"))
			}
			return
		}
		if c.onSend != nil {
			c.onSend(text)
		}
	})

	return c
}

// SetOnSend sets the callback for a message line.
func (c *Composer) SetOnSend(fn func(text string)) {
	c.onSend = fn
}

// SetOnCommand sets the callback for a command line, without the '/'.
func (c *Composer) SetOnCommand(fn func(line string)) {
	c.onCommand = fn
}
