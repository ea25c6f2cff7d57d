package unread

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/chat"
)

func withNewest(id, sender string, st chat.Status) chat.Conversation {
	return chat.Conversation{ID: id, NewestMessage: &chat.Message{ID: "m-" + id, SenderID: sender, Status: st}}
}

// A has an unseen message from another user, B's newest is mine: one unread.
func TestRecomputeScenario(t *testing.T) {
	convs := []chat.Conversation{
		withNewest("A", "u2", chat.Sent),
		withNewest("B", "me", chat.Sent),
	}
	assert.Equal(t, 1, Recompute(convs, "me"))
}

func TestRecomputeRules(t *testing.T) {
	convs := []chat.Conversation{
		withNewest("a", "u2", chat.Delivered),
		withNewest("b", "u2", chat.Seen),
		{ID: "c"},
		withNewest("d", "u3", chat.Sent),
	}
	assert.Equal(t, 2, Recompute(convs, "me"))
	assert.Equal(t, 0, Recompute(nil, "me"))
}

// Same state, same count, whatever order produced it.
func TestRecomputeDeterministic(t *testing.T) {
	a := []chat.Conversation{withNewest("a", "u2", chat.Sent), withNewest("b", "me", chat.Sent), withNewest("c", "u2", chat.Seen)}
	b := []chat.Conversation{a[2], a[0], a[1]}
	for i := 0; i < 10; i++ {
		assert.Equal(t, Recompute(a, "me"), Recompute(b, "me"))
	}
}

func TestCounterPublishesOnlyChanges(t *testing.T) {
	b := bus.New()
	ch, unsub := b.Subscribe("unread.", 10)
	defer unsub()

	c := NewCounter(b)
	assert.True(t, c.Set(2))
	assert.False(t, c.Set(2))
	assert.True(t, c.Set(0))
	assert.Equal(t, 0, c.Value())

	var got []int
	timeout := time.After(time.Second)
	for len(got) < 2 {
		select {
		case evt := <-ch:
			got = append(got, evt.Payload.(int))
		case <-timeout:
			t.Fatalf("got %v", got)
		}
	}
	assert.Equal(t, []int{2, 0}, got)
	select {
	case evt := <-ch:
		t.Fatalf("unexpected %v", evt)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestWatchSeesLatest(t *testing.T) {
	c := NewCounter(nil)
	c.Set(3)
	ch, stop := c.Watch()
	defer stop()

	require.Equal(t, 3, <-ch)
	c.Set(4)
	c.Set(5)
	assert.Equal(t, 5, <-ch)

	stop()
	stop()
	c.Set(6)
	select {
	case v := <-ch:
		t.Fatalf("value %d after stop", v)
	default:
	}
}
