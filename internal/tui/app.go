package tui

import (
	"context"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/matheus3301/chatsync/internal/tui/keys"
	"github.com/matheus3301/chatsync/internal/tui/model"
	"github.com/matheus3301/chatsync/internal/tui/views"
)

const (
	pageList = "conversations"
	pageChat = "chat"

	flashFor     = 5 * time.Second
	pollInterval = 3 * time.Second
)

// App is the main TUI application shell.
type App struct {
	app       *tview.Application
	pages     *tview.Pages
	vm        *model.ViewModel
	registry  *keys.Registry
	title     *views.Title
	statusBar *views.StatusBar
	chatList  *views.ChatList
	msgView   *views.MessageView
	composer  *views.Composer
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewApp creates the TUI application.
func NewApp(c model.Client, sessionName string) *App {
	ctx, cancel := context.WithCancel(context.Background())

	a := &App{
		app:       tview.NewApplication(),
		pages:     tview.NewPages(),
		vm:        model.NewViewModel(c),
		registry:  keys.NewRegistry(),
		title:     views.NewTitle(sessionName),
		statusBar: views.NewStatusBar(),
		chatList:  views.NewChatList(),
		msgView:   views.NewMessageView(),
		composer:  views.NewComposer(),
		ctx:       ctx,
		cancel:    cancel,
	}

	a.statusBar.SetSession(sessionName)
	a.setupBindings()
	a.setupCallbacks()
	a.setupLayout()

	return a
}

func (a *App) setupBindings() {
	a.registry.AddGlobal("quit", &keys.Action{
		Rune: 'q', Key: tcell.KeyRune,
		Description: "q:quit", Visible: true,
		Handler: func() { a.Stop() },
	})
	a.registry.AddView(pageList, "refresh", &keys.Action{
		Rune: 'R', Key: tcell.KeyRune,
		Description: "R:refresh", Visible: true,
		Handler: func() { go a.reload() },
	})
	a.registry.AddView(pageChat, "compose", &keys.Action{
		Rune: 'i', Key: tcell.KeyRune,
		Description: "i:compose", Visible: true,
		Handler: func() { a.app.SetFocus(a.composer) },
	})
	a.registry.AddView(pageChat, "older", &keys.Action{
		Rune: 'o', Key: tcell.KeyRune,
		Description: "o:older", Visible: true,
		Handler: func() { go a.loadOlder() },
	})
	a.registry.AddView(pageChat, "retry", &keys.Action{
		Rune: 'r', Key: tcell.KeyRune,
		Description: "r:retry", Visible: true,
		Handler: func() { go a.retry("") },
	})
	a.registry.AddView(pageChat, "back", &keys.Action{
		Key:         tcell.KeyEscape,
		Description: "esc:back", Visible: true,
		Handler: func() { a.closeChat() },
	})
}

func (a *App) setupCallbacks() {
	a.chatList.SetSelectedFunc(func(row, col int) {
		if id := a.chatList.SelectedConversation(); id != "" {
			a.openChat(id)
		}
	})

	a.composer.SetOnSend(func(text string) {
		go func() {
			if err := a.vm.Send(a.ctx, text); err != nil {
				a.flashErr("send failed: " + err.Error())
			}
		}()
	})

	a.composer.SetOnCommand(func(line string) {
		cmd, err := ParseCommand(line)
		if err != nil {
			a.flashErr(err.Error())
			return
		}
		switch cmd.Name {
		case "older":
			go a.loadOlder()
		case "retry":
			go a.retry(cmd.Arg(0))
		case "close":
			a.closeChat()
		}
	})

	a.composer.SetFocusFunc(func() { a.statusBar.SetHints("enter:send esc:history") })
	a.composer.SetBlurFunc(func() { a.showHints(pageChat) })
}

func (a *App) setupLayout() {
	chatFlex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.msgView, 0, 1, false).
		AddItem(a.composer, 1, 0, false)

	a.pages.AddPage(pageList, a.chatList, true, true)
	a.pages.AddPage(pageChat, chatFlex, true, false)

	root := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(a.title, 1, 0, false).
		AddItem(a.pages, 0, 1, true).
		AddItem(a.statusBar, 1, 0, false)

	a.app.SetRoot(root, true)
	a.showHints(pageList)

	a.app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		page, _ := a.pages.GetFrontPage()

		if _, ok := a.app.GetFocus().(*tview.InputField); ok {
			if event.Key() == tcell.KeyEscape {
				a.app.SetFocus(a.msgView)
				return nil
			}
			return event
		}

		if a.registry.HandleEvent(page, event) {
			return nil
		}
		return event
	})
}

func (a *App) showHints(page string) {
	a.statusBar.SetHints(strings.Join(a.registry.Hints(page), " "))
}

func (a *App) flash(msg string) {
	a.vm.Flash.Set(msg, flashFor)
	a.app.QueueUpdateDraw(func() { a.statusBar.SetFlash(a.vm.Flash.Get()) })
}

func (a *App) flashErr(msg string) {
	a.vm.Flash.Error(msg, flashFor)
	a.app.QueueUpdateDraw(func() { a.statusBar.SetFlash(a.vm.Flash.Get()) })
}

func (a *App) openChat(id string) {
	go func() {
		if err := a.vm.Open(a.ctx, id); err != nil {
			a.flashErr("open failed: " + err.Error())
			return
		}
		a.app.QueueUpdateDraw(func() {
			a.msgView.SetConversationName(a.vm.ActiveTitle())
			a.pages.SwitchToPage(pageChat)
			a.app.SetFocus(a.msgView)
			a.showHints(pageChat)
			a.render()
		})
	}()
}

func (a *App) closeChat() {
	a.pages.SwitchToPage(pageList)
	a.app.SetFocus(a.chatList)
	a.showHints(pageList)
	go func() {
		if err := a.vm.Close(a.ctx); err != nil {
			a.flashErr("close failed: " + err.Error())
		}
	}()
}

func (a *App) loadOlder() {
	n, err := a.vm.LoadOlder(a.ctx)
	switch {
	case err != nil:
		a.flashErr("load older: " + err.Error())
	case n == 0:
		a.flash("no older messages")
	}
}

func (a *App) retry(localID string) {
	did, err := a.vm.Retry(a.ctx, localID)
	switch {
	case err != nil:
		a.flashErr("retry failed: " + err.Error())
	case !did:
		a.flash("nothing to retry")
	}
}

func (a *App) reload() {
	if err := a.vm.LoadStatus(a.ctx); err != nil {
		a.flashErr("daemon: " + err.Error())
	}
	_ = a.vm.LoadConversations(a.ctx)
	_ = a.vm.LoadMessages(a.ctx)
}

// render copies view model state into the widgets. Runs on the UI goroutine.
func (a *App) render() {
	unread := a.vm.GetUnread()
	a.title.SetUnread(unread)
	a.statusBar.SetUnread(unread)
	a.statusBar.SetState(a.vm.GetState())
	a.statusBar.SetFlash(a.vm.Flash.Get())
	a.chatList.Update(a.vm.GetConversations(), unread)

	if page, _ := a.pages.GetFrontPage(); page == pageChat && a.vm.ActiveID() != "" {
		a.msgView.Update(a.vm.GetMessages(), a.vm.GetMe(), a.vm.GetHasMore())
	}
}

// reportViewport tells the daemon what the open conversation shows, so the
// newest message can be marked seen.
func (a *App) reportViewport() {
	if a.vm.ActiveID() == "" {
		return
	}
	if err := a.vm.ReportViewport(a.ctx, true); err != nil {
		a.flashErr("viewport: " + err.Error())
	}
}

// Run starts the TUI application.
func (a *App) Run() error {
	go a.reload()
	go a.watchUnread()
	go a.refreshLoop()
	return a.app.Run()
}

func (a *App) watchUnread() {
	for a.ctx.Err() == nil {
		if err := a.vm.WatchUnread(a.ctx); err != nil {
			a.flashErr("unread stream: " + err.Error())
		}
		select {
		case <-a.ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

func (a *App) refreshLoop() {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-a.vm.RefreshCh():
			a.app.QueueUpdateDraw(a.render)
			go a.reportViewport()
		case <-ticker.C:
			a.reload()
		case <-a.ctx.Done():
			return
		}
	}
}

// Stop gracefully shuts down the TUI.
func (a *App) Stop() {
	a.cancel()
	a.app.Stop()
}
