package keys

import (
	"testing"

	"github.com/gdamore/tcell/v2"
)

func TestDispatchPrefersView(t *testing.T) {
	r := NewRegistry()
	var got string
	r.AddGlobal("quit", &Action{Key: tcell.KeyRune, Rune: 'q', Handler: func() { got = "global" }})
	r.AddView("chat", "quote", &Action{Key: tcell.KeyRune, Rune: 'q', Handler: func() { got = "view" }})

	if !r.Dispatch("chat", tcell.KeyRune, 'q') || got != "view" {
		t.Fatalf("chat page: got %q", got)
	}
	if !r.Dispatch("conversations", tcell.KeyRune, 'q') || got != "global" {
		t.Fatalf("list page: got %q", got)
	}
	if r.Dispatch("chat", tcell.KeyRune, 'x') {
		t.Fatal("unbound key should not match")
	}
}

func TestSpecialKeys(t *testing.T) {
	r := NewRegistry()
	fired := false
	r.AddView("chat", "back", &Action{Key: tcell.KeyEscape, Handler: func() { fired = true }})

	if !r.Dispatch("chat", tcell.KeyEscape, 0) || !fired {
		t.Fatal("escape did not fire")
	}
}

func TestHintsOrder(t *testing.T) {
	r := NewRegistry()
	r.AddGlobal("quit", &Action{Description: "q:quit", Visible: true})
	r.AddView("chat", "retry", &Action{Description: "r:retry", Visible: true})
	r.AddView("chat", "older", &Action{Description: "o:older", Visible: true})
	r.AddView("chat", "hidden", &Action{Description: "x:hidden"})

	got := r.Hints("chat")
	want := []string{"o:older", "r:retry", "q:quit"}
	if len(got) != len(want) {
		t.Fatalf("Hints = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Hints = %v, want %v", got, want)
		}
	}
}
