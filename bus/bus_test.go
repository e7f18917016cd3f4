package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder collects delivered messages.
type recorder struct {
	mu   sync.Mutex
	msgs []Message
}

func (r *recorder) handle(m Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, m)
}

func (r *recorder) all() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.msgs...)
}

func TestMessageWireShapes(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
		want string
	}{
		{"login", Login("abc"), `{"type":"login","data":{"sessionNonce":"abc"}}`},
		{"logout", Logout(), `{"type":"logout"}`},
		{"expired", Expired(), `{"type":"session_expired"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.msg)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(data))
		})
	}
}

func TestHubDeliversToOthersOnly(t *testing.T) {
	hub := NewHub()
	tab1, tab2, tab3 := hub.Open(), hub.Open(), hub.Open()
	defer tab1.Close()
	defer tab2.Close()
	defer tab3.Close()

	var r1, r2, r3 recorder
	require.NoError(t, tab1.Subscribe(r1.handle))
	require.NoError(t, tab2.Subscribe(r2.handle))
	require.NoError(t, tab3.Subscribe(r3.handle))

	require.NoError(t, tab1.Publish(context.Background(), Login("n1")))

	assert.Empty(t, r1.all(), "publisher must not receive its own message")
	assert.Equal(t, []Message{Login("n1")}, r2.all())
	assert.Equal(t, []Message{Login("n1")}, r3.all())
}

func TestHubClosedEndpoint(t *testing.T) {
	hub := NewHub()
	tab1, tab2 := hub.Open(), hub.Open()

	var r2 recorder
	require.NoError(t, tab2.Subscribe(r2.handle))
	require.NoError(t, tab2.Close())

	require.NoError(t, tab1.Publish(context.Background(), Logout()))
	assert.Empty(t, r2.all())

	assert.ErrorIs(t, tab2.Publish(context.Background(), Logout()), ErrClosed)
	assert.ErrorIs(t, tab2.Subscribe(r2.handle), ErrClosed)
}

func TestHubSingleHandler(t *testing.T) {
	e := NewHub().Open()
	defer e.Close()

	require.NoError(t, e.Subscribe(func(Message) {}))
	assert.ErrorIs(t, e.Subscribe(func(Message) {}), ErrAlreadySubscribed)
}

func TestFileBusBetweenEndpoints(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bus", "broadcast.log")

	tab1, err := NewFile(path)
	require.NoError(t, err)
	defer tab1.Close()
	tab2, err := NewFile(path)
	require.NoError(t, err)
	defer tab2.Close()

	var r1, r2 recorder
	require.NoError(t, tab1.Subscribe(r1.handle))
	require.NoError(t, tab2.Subscribe(r2.handle))

	ctx := context.Background()
	require.NoError(t, tab1.Publish(ctx, Login("n1")))
	require.NoError(t, tab1.Publish(ctx, Logout()))

	require.Eventually(t, func() bool { return len(r2.all()) == 2 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []Message{Login("n1"), Logout()}, r2.all())

	// Give tab1's watcher time to see its own writes before asserting it skipped them.
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, r1.all())
}

func TestFileBusTruncatesLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broadcast.log")
	const limit = 256

	tab1, err := NewFile(path, WithMaxLogSize(limit))
	require.NoError(t, err)
	defer tab1.Close()
	tab2, err := NewFile(path, WithMaxLogSize(limit))
	require.NoError(t, err)
	defer tab2.Close()

	var r recorder
	require.NoError(t, tab2.Subscribe(r.handle))

	ctx := context.Background()
	var want []Message
	for i := 0; i < 20; i++ {
		msg := Login(fmt.Sprintf("nonce-%02d", i))
		want = append(want, msg)
		require.NoError(t, tab1.Publish(ctx, msg))
		require.Eventually(t, func() bool { return len(r.all()) == i+1 }, 2*time.Second, 10*time.Millisecond)
	}
	assert.Equal(t, want, r.all())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Less(t, info.Size(), int64(2*limit))
}

func TestFileBusSkipsHistoryAndGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broadcast.log")

	old, err := NewFile(path)
	require.NoError(t, err)
	require.NoError(t, old.Publish(context.Background(), Expired()))
	require.NoError(t, old.Close())

	tab, err := NewFile(path)
	require.NoError(t, err)
	defer tab.Close()

	var r recorder
	require.NoError(t, tab.Subscribe(r.handle))

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	_, err = f.WriteString("not an envelope\n" + `{"sender":"other","message":{"type":"theme_changed"}}` + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.Eventually(t, func() bool { return len(r.all()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, Type("theme_changed"), r.all()[0].Type, "unknown types are passed through for the receiver to ignore")
}
