package diff

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/udisondev/shardrealm/internal/entity"
	"github.com/udisondev/shardrealm/internal/tsid"
)

func TestQueueChangeCoalescesSameTargetAndType(t *testing.T) {
	o := New()
	player := tsid.New(tsid.TagPlayer)
	target := tsid.New(tsid.TagItem)

	o.QueueChange(player, target, Message{Type: "properties", Payload: map[string]any{"hp": 80}})
	o.QueueChange(player, target, Message{Type: "properties", Payload: map[string]any{"mp": 40}})
	o.QueueChange(player, target, Message{Type: "properties", Payload: map[string]any{"hp": 90}})

	msgs := o.Flush(player)
	require.Len(t, msgs, 1, "repeated changes against one target/type must coalesce")
	require.Equal(t, 90, msgs[0].Payload["hp"], "last value wins")
	require.Equal(t, 40, msgs[0].Payload["mp"], "merged keys survive")
}

func TestQueueChangeKeepsDistinctTargetsSeparate(t *testing.T) {
	o := New()
	player := tsid.New(tsid.TagPlayer)
	t1 := tsid.New(tsid.TagItem)
	t2 := tsid.New(tsid.TagItem)

	o.QueueChange(player, t1, Message{Type: "properties", Payload: map[string]any{"count": 1}})
	o.QueueChange(player, t2, Message{Type: "properties", Payload: map[string]any{"count": 2}})

	require.Len(t, o.Flush(player), 2)
}

func TestFlushClearsPending(t *testing.T) {
	o := New()
	player := tsid.New(tsid.TagPlayer)
	o.QueueChange(player, player, Message{Type: "ping"})
	require.Equal(t, 1, o.Pending(player))

	o.Flush(player)
	require.Zero(t, o.Pending(player))
	require.Nil(t, o.Flush(player), "a second flush with nothing queued yields nil")
}

func TestQueuePropertyDiffSkipsWhenNothingChanged(t *testing.T) {
	o := New()
	p := entity.NewPlayer(tsid.New(tsid.TagPlayer))
	QueuePropertyDiff(o, p.TSID(), p)
	require.Zero(t, o.Pending(p.TSID()))
}

func TestQueueAnncFansOutToAllRecipients(t *testing.T) {
	o := New()
	p1 := tsid.New(tsid.TagPlayer)
	p2 := tsid.New(tsid.TagPlayer)
	o.QueueAnnc([]tsid.TSID{p1, p2}, Message{Type: "chat", Payload: map[string]any{"text": "hi"}})

	require.Equal(t, 1, o.Pending(p1))
	require.Equal(t, 1, o.Pending(p2))
}

func TestQueueAnncDoesNotCoalesceRepeatedAnnouncements(t *testing.T) {
	o := New()
	player := tsid.New(tsid.TagPlayer)
	o.QueueAnnc([]tsid.TSID{player}, Message{Type: "chat", Payload: map[string]any{"text": "hi"}})
	o.QueueAnnc([]tsid.TSID{player}, Message{Type: "chat", Payload: map[string]any{"text": "bye"}})

	msgs := o.Flush(player)
	require.Len(t, msgs, 2, "announcements never collapse into one another")
	require.Equal(t, "hi", msgs[0].Payload["text"])
	require.Equal(t, "bye", msgs[1].Payload["text"])
}

func TestQueueItemChangeCoalescesSameItemLastValueWins(t *testing.T) {
	o := New()
	player := tsid.New(tsid.TagPlayer)
	item := tsid.New(tsid.TagItem)

	o.QueueItemChange(player, "pc", item, ItemFields{Count: 5, Slot: "inv"})
	o.QueueItemChange(player, "pc", item, ItemFields{Count: 3, Slot: "inv"})

	msgs := o.Flush(player)
	require.Len(t, msgs, 1)
	pc := msgs[0].Payload["pc"].(map[string]any)
	got := pc[string(item)].(ItemFields)
	require.EqualValues(t, 3, got.Count)
}

func TestQueueItemChangeSeparatesPCAndLocationScope(t *testing.T) {
	o := New()
	player := tsid.New(tsid.TagPlayer)
	carried := tsid.New(tsid.TagItem)
	onGround := tsid.New(tsid.TagItem)

	o.QueueItemChange(player, "pc", carried, ItemFields{Count: 1})
	o.QueueItemChange(player, "location", onGround, ItemFields{Removed: true})

	msgs := o.Flush(player)
	require.Len(t, msgs, 1, "item changes share a single changeset message")
	pc := msgs[0].Payload["pc"].(map[string]any)
	loc := msgs[0].Payload["location"].(map[string]any)
	require.Contains(t, pc, string(carried))
	require.Contains(t, loc, string(onGround))
}
