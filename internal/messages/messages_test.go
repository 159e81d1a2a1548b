package messages

import (
	"context"
	"testing"
	"time"

	"bookshelf/internal/identity"
	"bookshelf/internal/remote"
	"bookshelf/internal/remote/memory"
	"bookshelf/internal/validation"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func bootstrapConversation(t *testing.T, store *memory.Store, me, peer string) *Conversation {
	logger, err := zap.NewDevelopment()
	require.NoError(t, err)

	var session identity.Session = identity.Anonymous
	if me != "" {
		session = identity.Static{ID: me}
	}
	c := NewConversation(logger.Sugar(), store, store, session, peer)
	t.Cleanup(c.Close)
	require.NoError(t, c.Open(context.Background()))
	return c
}

func bodies(ms []Message) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.Body
	}
	return out
}

func TestLoadMatchesBothDirections(t *testing.T) {
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	store := memory.New()
	store.Seed(remote.Messages,
		remote.Row{"content": "3", "sender_id": "a", "receiver_id": "b", "created_at": base.Add(3 * time.Minute)},
		remote.Row{"content": "1", "sender_id": "a", "receiver_id": "b", "created_at": base},
		remote.Row{"content": "2", "sender_id": "b", "receiver_id": "a", "created_at": base.Add(time.Minute)},
		remote.Row{"content": "x", "sender_id": "a", "receiver_id": "c", "created_at": base},
	)

	fromA := bootstrapConversation(t, store, "a", "b")
	fromB := bootstrapConversation(t, store, "b", "a")

	require.Equal(t, []string{"1", "2", "3"}, bodies(fromA.Messages()))
	require.Equal(t, bodies(fromA.Messages()), bodies(fromB.Messages()))
}

func TestMessagesAreOrderedByTime(t *testing.T) {
	store := memory.New()
	c := bootstrapConversation(t, store, "a", "b")
	peer := bootstrapConversation(t, store, "b", "a")

	for _, body := range []string{"hi", "hello", "how are you", "fine"} {
		_, err := c.Send(context.Background(), body)
		require.NoError(t, err)
		_, err = peer.Send(context.Background(), body+"!")
		require.NoError(t, err)
	}

	ms := c.Messages()
	require.Len(t, ms, 8)
	for i := 1; i < len(ms); i++ {
		require.False(t, ms[i].CreatedAt.Before(ms[i-1].CreatedAt))
	}
}

func TestLiveUpdatesInBothDirections(t *testing.T) {
	store := memory.New()
	a := bootstrapConversation(t, store, "a", "b")
	b := bootstrapConversation(t, store, "b", "a")

	_, err := a.Send(context.Background(), "ping")
	require.NoError(t, err)
	_, err = b.Send(context.Background(), "pong")
	require.NoError(t, err)

	require.Equal(t, []string{"ping", "pong"}, bodies(a.Messages()))
	require.Equal(t, []string{"ping", "pong"}, bodies(b.Messages()))
}

func TestUnrelatedMessagesDoNotReload(t *testing.T) {
	store := memory.New()
	bootstrapConversation(t, store, "a", "b")
	store.ResetCalls()

	_, err := store.Insert(context.Background(), remote.Messages, remote.Row{"content": "x", "sender_id": "a", "receiver_id": "c"})
	require.NoError(t, err)
	require.Empty(t, store.Calls(memory.OpSelect))
}

func TestSendValidation(t *testing.T) {
	store := memory.New()

	c := bootstrapConversation(t, store, "a", "b")
	store.ResetCalls()
	_, err := c.Send(context.Background(), "   ")
	require.ErrorIs(t, err, validation.ErrRejected)

	noPeer := bootstrapConversation(t, store, "a", "")
	_, err = noPeer.Send(context.Background(), "hi")
	require.ErrorIs(t, err, validation.ErrRejected)

	anon := bootstrapConversation(t, store, "", "b")
	_, err = anon.Send(context.Background(), "hi")
	require.ErrorIs(t, err, validation.ErrRejected)

	require.Empty(t, store.Calls(""))
}

func TestSendFailureKeepsMessages(t *testing.T) {
	store := memory.New()
	c := bootstrapConversation(t, store, "a", "b")
	_, err := c.Send(context.Background(), "kept")
	require.NoError(t, err)

	store.FailNext(memory.OpInsert, remote.ErrBadReference)
	_, err = c.Send(context.Background(), "lost")
	require.ErrorIs(t, err, remote.ErrWriteFailed)
	require.Equal(t, []string{"kept"}, bodies(c.Messages()))
}

func TestSendReturnsStoredMessage(t *testing.T) {
	store := memory.New()
	c := bootstrapConversation(t, store, "a", "b")

	m, err := c.Send(context.Background(), "hello")
	require.NoError(t, err)
	require.NotEmpty(t, m.ID)
	require.Equal(t, "a", m.SenderID)
	require.Equal(t, "b", m.ReceiverID)
}
