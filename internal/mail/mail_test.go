package mail

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender(t *testing.T) {
	body, err := Render(Message{
		To:       "alice@example.com",
		Link:     "https://auth.example.com/api/auth/verify?token=abc",
		SiteName: "Signalix",
		Expiry:   15 * time.Minute,
	})
	require.NoError(t, err)
	assert.Contains(t, body, "Hi alice@example.com,")
	assert.Contains(t, body, "https://auth.example.com/api/auth/verify?token=abc")
	assert.Contains(t, body, "expires in 15 minutes")
}

func TestOutbox(t *testing.T) {
	var o Outbox
	ctx := context.Background()
	require.NoError(t, o.Send(ctx, Message{To: "a@example.com", Link: "1"}))
	require.NoError(t, o.Send(ctx, Message{To: "b@example.com", Link: "2"}))
	require.NoError(t, o.Send(ctx, Message{To: "a@example.com", Link: "3"}))

	assert.Len(t, o.Sent(), 3)
	m, ok := o.Last("A@example.com")
	require.True(t, ok)
	assert.Equal(t, "3", m.Link)
	_, ok = o.Last("c@example.com")
	assert.False(t, ok)
}

func TestMaskEmail(t *testing.T) {
	assert.Equal(t, "a***@example.com", MaskEmail("alice@example.com"))
	assert.Equal(t, "***", MaskEmail("nope"))
	assert.Equal(t, "***", MaskEmail("@example.com"))
}
