package remote

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/valyala/fastjson"
)

func TestDecodeTriggerPayload(t *testing.T) {
	payload := `{"table":"book_reviews","type":"UPDATE","record":{"id":"r1","rating":4,"review_text":"ok","created_at":"2024-03-01T10:00:00.5+00:00","deleted":null,"flag":true}}`

	var p fastjson.Parser
	e, err := DecodeEvent(&p, []byte(payload))
	require.NoError(t, err)

	require.Equal(t, BookReviews, e.Collection)
	require.Equal(t, Update, e.Type)
	require.Equal(t, "r1", e.Record.ID())
	require.Equal(t, 4, e.Record.Int("rating"))
	require.True(t, e.Record.Bool("flag"))
	require.Nil(t, e.Record["deleted"])
	require.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 5e8, time.UTC), e.Record.Time("created_at").UTC())
}

func TestEncodeDecodeEvent(t *testing.T) {
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	in := Event{
		Collection: Messages,
		Type:       Insert,
		Record:     Row{"id": "m1", "content": "hi", "created_at": at, "seq": int64(3)},
	}

	var p fastjson.Parser
	out, err := DecodeEvent(&p, EncodeEvent(in))
	require.NoError(t, err)
	require.Equal(t, Messages, out.Collection)
	require.Equal(t, Insert, out.Type)
	require.Equal(t, "hi", out.Record.String("content"))
	require.Equal(t, 3, out.Record.Int("seq"))
	require.True(t, at.Equal(out.Record.Time("created_at")))
}

func TestDecodeMalformed(t *testing.T) {
	var p fastjson.Parser

	_, err := DecodeEvent(&p, []byte(`{"table":`))
	require.ErrorIs(t, err, ErrMalformedEvent)

	_, err = DecodeEvent(&p, []byte(`{"record":{}}`))
	require.ErrorIs(t, err, ErrMalformedEvent)
}
