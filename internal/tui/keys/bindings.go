package keys

import (
	"sort"

	"github.com/gdamore/tcell/v2"
)

// Action represents a keybinding action.
type Action struct {
	Key         tcell.Key
	Rune        rune
	Description string
	Handler     func()
	Visible     bool
}

// Matches returns true if the event matches this action.
func (a *Action) Matches(ev *tcell.EventKey) bool {
	return a.matches(ev.Key(), ev.Rune())
}

func (a *Action) matches(key tcell.Key, r rune) bool {
	if a.Key != tcell.KeyRune {
		return key == a.Key
	}
	return key == tcell.KeyRune && r == a.Rune
}

// Registry holds keybindings organized by page.
type Registry struct {
	Global map[string]*Action
	Views  map[string]map[string]*Action
}

// NewRegistry creates a new keybinding registry.
func NewRegistry() *Registry {
	return &Registry{
		Global: make(map[string]*Action),
		Views:  make(map[string]map[string]*Action),
	}
}

// AddGlobal registers a binding active on every page.
func (r *Registry) AddGlobal(name string, action *Action) {
	r.Global[name] = action
}

// AddView registers a binding for one page. It shadows a global binding on
// the same key.
func (r *Registry) AddView(view, name string, action *Action) {
	if r.Views[view] == nil {
		r.Views[view] = make(map[string]*Action)
	}
	r.Views[view][name] = action
}

// Hints returns the visible descriptions for a page: page bindings first,
// then globals, each group sorted.
func (r *Registry) Hints(view string) []string {
	hints := visible(r.Views[view])
	return append(hints, visible(r.Global)...)
}

func visible(actions map[string]*Action) []string {
	var out []string
	for _, a := range actions {
		if a.Visible {
			out = append(out, a.Description)
		}
	}
	sort.Strings(out)
	return out
}

// HandleEvent dispatches a key event to the matching action for view.
// Returns true if a handler matched.
func (r *Registry) HandleEvent(view string, ev *tcell.EventKey) bool {
	return r.Dispatch(view, ev.Key(), ev.Rune())
}

// Dispatch runs the action bound to key (and ch for rune keys) on view.
func (r *Registry) Dispatch(view string, key tcell.Key, ch rune) bool {
	for _, a := range r.Views[view] {
		if a.matches(key, ch) {
			a.Handler()
			return true
		}
	}
	for _, a := range r.Global {
		if a.matches(key, ch) {
			a.Handler()
			return true
		}
	}
	return false
}
