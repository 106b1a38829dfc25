package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

const waitTimeout = 5 * time.Second

// ignoreLogging skips glog's background flusher in leak checks.
var ignoreLogging = goleak.IgnoreAnyFunction("github.com/golang/glog.(*fileSink).flushDaemon")

// newOrigin starts a feed origin that hands every upgraded connection and
// its requested path to serve.
func newOrigin(t *testing.T, serve func(path string, conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		serve(r.URL.Path, conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/feed"
}

// sendThenClose writes frames and closes the connection normally.
func sendThenClose(frames ...string) func(string, *websocket.Conn) {
	return func(_ string, conn *websocket.Conn) {
		for _, f := range frames {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(f)); err != nil {
				return
			}
		}
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
		// Wait for the client to go away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}
}

// recorder collects handler invocations and flags concurrent calls.
type recorder struct {
	mu         sync.Mutex
	events     []Event
	inFlight   int
	concurrent bool
}

func (r *recorder) handle(ev Event) {
	r.mu.Lock()
	r.inFlight++
	if r.inFlight > 1 {
		r.concurrent = true
	}
	r.mu.Unlock()

	time.Sleep(time.Millisecond)

	r.mu.Lock()
	r.events = append(r.events, ev)
	r.inFlight--
	r.mu.Unlock()
}

func (r *recorder) got() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func waitDone(t *testing.T, sub *Subscription) error {
	t.Helper()
	select {
	case <-sub.Done():
		return sub.Err()
	case <-time.After(waitTimeout):
		t.Fatal("subscription did not finish")
		return nil
	}
}

func TestSubscribePostFrame(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent(), ignoreLogging)

	paths := make(chan string, 1)
	srv := newOrigin(t, func(p string, conn *websocket.Conn) {
		paths <- p
		sendThenClose(`{"html":"<p>hi</p>"}`)(p, conn)
	})

	rec := &recorder{}
	sub, err := Subscribe(context.Background(), Options{BaseURL: wsURL(srv)}, "abc123", rec.handle)
	require.NoError(t, err)
	assert.Equal(t, "abc123", sub.Address())

	require.NoError(t, waitDone(t, sub))
	assert.Equal(t, Closed, sub.State())
	assert.Equal(t, "/feed/abc123", <-paths)
	assert.Equal(t, []Event{PostEvent{HTML: "<p>hi</p>"}}, rec.got())
	srv.Close()
}

func TestSubscribeErrorFrame(t *testing.T) {
	srv := newOrigin(t, sendThenClose(`{"error":true,"message":"feed not found"}`))

	rec := &recorder{}
	sub, err := Subscribe(context.Background(), Options{BaseURL: wsURL(srv)}, "missing", rec.handle)
	require.NoError(t, err)
	require.NoError(t, waitDone(t, sub))

	got := rec.got()
	require.Len(t, got, 1)
	ev, ok := got[0].(ErrorEvent)
	require.True(t, ok, "expected ErrorEvent, got %T", got[0])
	assert.Equal(t, "feed not found", ev.Message)
}

func TestSubscribePreservesArrivalOrder(t *testing.T) {
	frames := make([]string, 0, 50)
	want := make([]Event, 0, 50)
	for i := 0; i < 50; i++ {
		html := strings.Repeat("x", i)
		frames = append(frames, `{"html":"`+html+`"}`)
		want = append(want, PostEvent{HTML: html})
	}
	srv := newOrigin(t, sendThenClose(frames...))

	rec := &recorder{}
	sub, err := Subscribe(context.Background(), Options{BaseURL: wsURL(srv), QueueSize: 4}, "order", rec.handle)
	require.NoError(t, err)
	require.NoError(t, waitDone(t, sub))

	assert.Equal(t, want, rec.got())
	assert.False(t, rec.concurrent, "handler was invoked concurrently")
}

func TestSubscribeDialFailure(t *testing.T) {
	srv := newOrigin(t, sendThenClose())
	base := wsURL(srv)
	srv.Close()

	called := false
	sub, err := Subscribe(context.Background(), Options{BaseURL: base}, "abc123", func(Event) { called = true })
	require.Error(t, err)
	assert.Nil(t, sub)
	assert.True(t, IsTransportError(err), "want transport error, got %v", err)
	assert.False(t, called)
}

func TestSubscribeDecodeFailure(t *testing.T) {
	srv := newOrigin(t, sendThenClose(`{"html":"A"}`, `not json`, `{"html":"B"}`))

	rec := &recorder{}
	sub, err := Subscribe(context.Background(), Options{BaseURL: wsURL(srv)}, "bad", rec.handle)
	require.NoError(t, err)

	err = waitDone(t, sub)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDecode), "want ErrDecode, got %v", err)
	assert.False(t, IsTransportError(err))
	assert.Equal(t, Failed, sub.State())
	assert.Equal(t, []Event{PostEvent{HTML: "A"}}, rec.got())
}

func TestSubscribeAbnormalClose(t *testing.T) {
	srv := newOrigin(t, func(_ string, conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{"html":"A"}`))
		conn.UnderlyingConn().Close()
	})

	rec := &recorder{}
	sub, err := Subscribe(context.Background(), Options{BaseURL: wsURL(srv)}, "drop", rec.handle)
	require.NoError(t, err)

	err = waitDone(t, sub)
	assert.Equal(t, Failed, sub.State())
	assert.True(t, IsTransportError(err), "want transport error, got %v", err)
	assert.Equal(t, []Event{PostEvent{HTML: "A"}}, rec.got())
}

func TestSubscribeMissingPongFails(t *testing.T) {
	release := make(chan struct{})
	srv := newOrigin(t, func(_ string, conn *websocket.Conn) {
		// Never reads, so pings go unanswered.
		<-release
	})
	t.Cleanup(func() { close(release) })

	opts := Options{BaseURL: wsURL(srv), PingInterval: 50 * time.Millisecond}
	sub, err := Subscribe(context.Background(), opts, "silent", func(Event) {})
	require.NoError(t, err)

	err = waitDone(t, sub)
	assert.Equal(t, Failed, sub.State())
	assert.True(t, IsTransportError(err), "want transport error, got %v", err)
}

func TestSubscribePongKeepsAlive(t *testing.T) {
	srv := newOrigin(t, func(_ string, conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	opts := Options{BaseURL: wsURL(srv), PingInterval: 50 * time.Millisecond}
	sub, err := Subscribe(context.Background(), opts, "chatty", func(Event) {})
	require.NoError(t, err)

	// Well past the pong deadline of 2*PingInterval.
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, Open, sub.State())

	require.NoError(t, sub.Close())
	require.NoError(t, waitDone(t, sub))
	assert.Equal(t, Closed, sub.State())
}

func TestSubscribeClose(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent(), ignoreLogging)

	release := make(chan struct{})
	srv := newOrigin(t, func(_ string, conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{"html":"A"}`))
		<-release
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	first := make(chan struct{}, 1)
	sub, err := Subscribe(context.Background(), Options{BaseURL: wsURL(srv)}, "idle", func(Event) {
		first <- struct{}{}
	})
	require.NoError(t, err)

	select {
	case <-first:
	case <-time.After(waitTimeout):
		t.Fatal("first frame not delivered")
	}
	assert.Equal(t, Open, sub.State())

	require.NoError(t, sub.Close())
	close(release)
	require.NoError(t, waitDone(t, sub))
	assert.Equal(t, Closed, sub.State())
	assert.NoError(t, sub.Close())
	srv.Close()
}

func TestSubscribeCloseStopsDispatch(t *testing.T) {
	frames := make([]string, 200)
	for i := range frames {
		frames[i] = `{"html":"x"}`
	}
	srv := newOrigin(t, sendThenClose(frames...))

	var mu sync.Mutex
	started := 0
	first := make(chan struct{})
	sub, err := Subscribe(context.Background(), Options{BaseURL: wsURL(srv), QueueSize: 8}, "busy", func(Event) {
		mu.Lock()
		started++
		if started == 1 {
			close(first)
		}
		mu.Unlock()
		time.Sleep(time.Millisecond)
	})
	require.NoError(t, err)

	select {
	case <-first:
	case <-time.After(waitTimeout):
		t.Fatal("first frame not delivered")
	}

	require.NoError(t, sub.Close())
	mu.Lock()
	atClose := started
	mu.Unlock()

	require.NoError(t, waitDone(t, sub))
	mu.Lock()
	defer mu.Unlock()
	// Only a call dispatched before Close returned may still have started.
	assert.LessOrEqual(t, started, atClose+1)
	assert.Less(t, started, len(frames))
}

func TestSubscribeContextCancelCloses(t *testing.T) {
	srv := newOrigin(t, func(_ string, conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	sub, err := Subscribe(ctx, Options{BaseURL: wsURL(srv)}, "cancel", func(Event) {})
	require.NoError(t, err)

	cancel()
	require.NoError(t, waitDone(t, sub))
	assert.Equal(t, Closed, sub.State())
}

func TestSubscribeCloseFromHandler(t *testing.T) {
	srv := newOrigin(t, sendThenClose(`{"html":"A"}`, `{"html":"B"}`, `{"html":"C"}`))

	var sub *Subscription
	ready := make(chan struct{})
	var mu sync.Mutex
	var got []Event
	sub, err := Subscribe(context.Background(), Options{BaseURL: wsURL(srv)}, "self", func(ev Event) {
		<-ready
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
		sub.Close()
	})
	require.NoError(t, err)
	close(ready)

	require.NoError(t, waitDone(t, sub))
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []Event{PostEvent{HTML: "A"}}, got)
}

func TestSubscribeValidation(t *testing.T) {
	_, err := Subscribe(context.Background(), Options{}, "", func(Event) {})
	assert.True(t, errors.Is(err, errors.NotValid), "empty address: %v", err)

	_, err = Subscribe(context.Background(), Options{}, "abc", nil)
	assert.True(t, errors.Is(err, errors.NotValid), "nil handler: %v", err)

	_, err = Subscribe(context.Background(), Options{BaseURL: "http://example.com/feed"}, "abc", func(Event) {})
	assert.True(t, errors.Is(err, errors.NotValid), "bad scheme: %v", err)
}

func TestOptionsTarget(t *testing.T) {
	tests := []struct {
		base, address, want string
	}{
		{"", "abc123", "ws://127.0.0.1:7777/feed/abc123"},
		{"ws://host/feed/", "abc", "ws://host/feed/abc"},
		{"wss://host/channel/feed", "a b/c", "wss://host/channel/feed/a%20b%2Fc"},
	}
	for _, tt := range tests {
		got, err := Options{BaseURL: tt.base}.Target(tt.address)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "connecting", Connecting.String())
	assert.Equal(t, "failed", Failed.String())
	assert.True(t, Closed.Terminal())
	assert.False(t, Open.Terminal())
}
