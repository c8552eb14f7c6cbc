package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foreman-pm/foreman/internal/shared"
)

type recipientKey struct{}

func TestHubDeliversToRecipientOnly(t *testing.T) {
	hub := NewHub(func(ctx context.Context) string {
		id, _ := ctx.Value(recipientKey{}).(string)
		return id
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	alice := hub.Subscribe(ctx, "alice")
	bob := hub.Subscribe(ctx, "bob")

	hub.Notify(context.WithValue(context.Background(), recipientKey{}, "alice"), Toast{Title: "Bill approved", Variant: Success})

	select {
	case got := <-alice:
		assert.Equal(t, "Bill approved", got.Title)
		assert.NotEmpty(t, got.ID)
		assert.False(t, got.At.IsZero())
	case <-time.After(time.Second):
		t.Fatal("alice did not receive toast")
	}
	select {
	case got := <-bob:
		t.Fatalf("bob received %v", got)
	default:
	}
}

func TestHubClosesChannelOnCancel(t *testing.T) {
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	ch := hub.Subscribe(ctx, "alice")
	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-ch:
			return !ok
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
}

func TestSessionNotifierAddsFlash(t *testing.T) {
	sm := shared.NewSessionManager(nil, "s", time.Hour, false)
	sess, err := sm.Load(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	ctx := shared.ContextWithSession(context.Background(), sess)

	SessionNotifier{}.Notify(ctx, Toast{Title: "Access Denied", Description: "Accounting", Variant: Destructive})
	SessionNotifier{}.Notify(context.Background(), Toast{Title: "ignored"})

	flashes := sess.Flashes()
	require.Len(t, flashes, 1)
	assert.Equal(t, shared.FlashMessage{Kind: "destructive", Title: "Access Denied", Message: "Accounting"}, flashes[0])
}

func TestMultiStampsOnce(t *testing.T) {
	var ids []string
	rec := NotifierFunc(func(_ context.Context, t Toast) { ids = append(ids, t.ID) })
	Multi{rec, nil, rec}.Notify(context.Background(), Toast{Title: "x"})
	require.Len(t, ids, 2)
	assert.Equal(t, ids[0], ids[1])
}
