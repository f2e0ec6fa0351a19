package notifier

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLog_Send(t *testing.T) {
	n := NewLog(nil, 2)

	for i := 0; i < 3; i++ {
		require.NoError(t, n.Send(context.Background(), fmt.Sprintf("u%d@example.com", i), "subject", "body"))
	}

	sent := n.Sent()
	require.Len(t, sent, 2)
	assert.Equal(t, "u1@example.com", sent[0].Recipient)
	assert.Equal(t, "u2@example.com", sent[1].Recipient)
}

func TestLog_SendCancelled(t *testing.T) {
	n := NewLog(nil, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, n.Send(ctx, "a@example.com", "s", "b"), context.Canceled)
	assert.Empty(t, n.Sent())
}
