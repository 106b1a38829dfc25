package feed

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
	"github.com/juju/errors"
)

const (
	// DefaultBaseURL is the feed path addresses are appended to.
	DefaultBaseURL = "ws://127.0.0.1:7777/feed"

	defaultQueueSize = 64
	writeTimeout     = 10 * time.Second
)

// State is the lifecycle position of a Subscription.
type State int

const (
	Connecting State = iota
	Open
	Closed
	Failed
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closed:
		return "closed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further frames can arrive in this state.
func (s State) Terminal() bool {
	return s == Closed || s == Failed
}

// Handler receives every decoded frame of a subscription, one at a time.
type Handler func(Event)

// Options configures how subscriptions reach the origin.
type Options struct {
	// BaseURL is the fixed feed path, e.g. ws://host:7777/feed.
	BaseURL string
	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer
	Header http.Header
	// PingInterval enables keep-alive pings when positive. With pings
	// disabled an idle connection waits indefinitely.
	PingInterval time.Duration
	// QueueSize bounds decoded events waiting for the handler.
	QueueSize int
}

// Target builds the connection URL for address.
func (o Options) Target(address string) (string, error) {
	if address == "" {
		return "", errors.NotValidf("empty feed address")
	}
	base := o.BaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", errors.Annotatef(err, "parsing feed url %q", base)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", errors.NotValidf("feed url scheme %q", u.Scheme)
	}
	return strings.TrimSuffix(base, "/") + "/" + url.PathEscape(address), nil
}

// TransportError is a failure of the underlying connection, as opposed to
// an in-band ErrorEvent or a decode failure.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return "feed " + e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransportError reports whether err is (or wraps) a TransportError.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// Subscription is one open feed connection for one address.
type Subscription struct {
	address string
	target  string
	handler Handler
	conn    *websocket.Conn

	mu             sync.Mutex
	state          State
	err            error
	readErr        error
	closeRequested bool

	closeOnce sync.Once
	closing   chan struct{}
	done      chan struct{}
}

// Subscribe opens the feed for address and returns once the connection is
// open. If establishment fails the error is a *TransportError and handler
// is never called. Frames are then delivered to handler asynchronously, in
// arrival order, until the subscription is closed or fails. Cancelling ctx
// closes the subscription.
func Subscribe(ctx context.Context, opts Options, address string, handler Handler) (*Subscription, error) {
	if handler == nil {
		return nil, errors.NotValidf("nil feed handler")
	}
	target, err := opts.Target(address)
	if err != nil {
		return nil, errors.Trace(err)
	}

	s := &Subscription{
		address: address,
		target:  target,
		handler: handler,
		state:   Connecting,
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}

	dialer := opts.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, target, opts.Header)
	if err != nil {
		s.fail(&TransportError{Op: "dial", Err: err})
		glog.Warningf("feed %q: dial %s: %v", address, target, err)
		return nil, s.err
	}
	s.conn = conn

	s.mu.Lock()
	s.state = Open
	s.mu.Unlock()
	glog.Infof("feed %q: connected to %s", address, target)

	queue := opts.QueueSize
	if queue <= 0 {
		queue = defaultQueueSize
	}
	events := make(chan Event, queue)

	if opts.PingInterval > 0 {
		pongWait := 2 * opts.PingInterval
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		go s.pingLoop(opts.PingInterval)
	}

	go s.readLoop(events)
	go s.dispatchLoop(events)
	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.done:
		}
	}()

	return s, nil
}

// Address returns the feed address this subscription is scoped to.
func (s *Subscription) Address() string {
	return s.address
}

// Target returns the URL that was dialled.
func (s *Subscription) Target() string {
	return s.target
}

// State returns the current lifecycle state.
func (s *Subscription) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the failure that ended the subscription, or nil.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done is closed once the subscription is Closed or Failed and the handler
// will not be called again.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the subscription is terminal and returns Err.
func (s *Subscription) Wait() error {
	<-s.done
	return s.Err()
}

// Close requests teardown. Once Close returns no further event is dispatched
// to the handler; a call dispatched before that runs to completion and Close
// does not wait for it. It is safe to call from the handler.
func (s *Subscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closeRequested = true
		s.mu.Unlock()
		close(s.closing)

		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if werr := s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeTimeout)); werr != nil && werr != websocket.ErrCloseSent {
			glog.V(1).Infof("feed %q: close frame: %v", s.address, werr)
		}
		// Unblocks the reader.
		err = s.conn.Close()
	})
	return err
}

func (s *Subscription) readLoop(events chan<- Event) {
	defer close(events)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.setReadErr(err)
			return
		}

		ev, err := Decode(data)
		if err != nil {
			glog.Warningf("feed %q: %v", s.address, err)
			s.setReadErr(errors.Annotatef(err, "feed %q", s.address))
			return
		}
		glog.V(2).Infof("feed %q: frame %T", s.address, ev)

		select {
		case events <- ev:
		case <-s.closing:
			return
		}
	}
}

// dispatchLoop is the only caller of the handler.
func (s *Subscription) dispatchLoop(events <-chan Event) {
	for ev := range events {
		if !s.dispatchable() {
			continue
		}
		s.handler(ev)
	}
	s.finish()
}

// dispatchable reports whether an event may still be handed to the handler.
// It shares s.mu with Close, so each dispatch is ordered before or after a
// close request.
func (s *Subscription) dispatchable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closeRequested
}

func (s *Subscription) pingLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-s.closing:
			return
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				glog.V(1).Infof("feed %q: ping: %v", s.address, err)
				return
			}
		}
	}
}

func (s *Subscription) setReadErr(err error) {
	s.mu.Lock()
	s.readErr = err
	s.mu.Unlock()
}

func (s *Subscription) fail(err error) {
	s.mu.Lock()
	s.state = Failed
	s.err = err
	s.mu.Unlock()
}

func (s *Subscription) finish() {
	s.mu.Lock()
	readErr := s.readErr
	switch {
	case s.closeRequested, readErr == nil:
		s.state = Closed
	case websocket.IsCloseError(readErr, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		s.state = Closed
	case errors.Is(readErr, ErrDecode):
		s.state = Failed
		s.err = readErr
	default:
		s.state = Failed
		s.err = &TransportError{Op: "read", Err: readErr}
	}
	state, err := s.state, s.err
	s.mu.Unlock()

	s.conn.Close()
	if err != nil {
		glog.Warningf("feed %q: %s: %v", s.address, state, err)
	} else {
		glog.Infof("feed %q: %s", s.address, state)
	}
	close(s.done)
}
