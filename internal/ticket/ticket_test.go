package ticket

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rajpoot-vikas/computer-use-preview-kogo/pkg/models"
)

func TestTicketResolveWakesAwait(t *testing.T) {
	tk := New(models.Command{Name: models.CmdScreenshot})
	require.NotEmpty(t, tk.ID)

	go func() {
		tk.Resolve(models.Result{ID: tk.ID, URL: "https://example.com/"})
	}()

	res, err := tk.Await(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/", res.URL)
}

func TestTicketResolveIsIdempotent(t *testing.T) {
	tk := New(models.Command{Name: models.CmdScreenshot})

	assert.True(t, tk.Resolve(models.Result{ID: tk.ID, URL: "first"}))
	assert.False(t, tk.Resolve(models.Result{ID: tk.ID, URL: "second"}))

	res, err := tk.Await(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "first", res.URL)
}

func TestTicketAwaitTimeout(t *testing.T) {
	tk := New(models.Command{Name: models.CmdScreenshot})

	_, err := tk.Await(context.Background(), 10*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestTicketAwaitContextCancel(t *testing.T) {
	tk := New(models.Command{Name: models.CmdScreenshot})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := tk.Await(ctx, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTicketIDsAreUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		tk := New(models.Command{Name: models.CmdWait})
		assert.False(t, seen[tk.ID])
		seen[tk.ID] = true
	}
}
