package transport

import (
	"errors"
	"testing"
	"time"

	"github.com/EgorLis/thinws/internal/testutil/testlog"
	"github.com/EgorLis/thinws/internal/testutil/wstest"
	"github.com/gorilla/websocket"
)

type recorder struct {
	events chan string
	frames chan string
	errs   chan error
}

func newRecorder() *recorder {
	return &recorder{
		events: make(chan string, 256),
		frames: make(chan string, 256),
		errs:   make(chan error, 256),
	}
}

func (r *recorder) OnOpen()              { r.events <- "open" }
func (r *recorder) OnFrame(frame []byte) { r.frames <- string(frame) }
func (r *recorder) OnFail(err error)     { r.errs <- err; r.events <- "fail" }
func (r *recorder) OnDisconnected(err error) {
	r.errs <- err
	r.events <- "disconnected"
}
func (r *recorder) OnClose() { r.events <- "close" }

func (r *recorder) expect(t *testing.T, want string) {
	t.Helper()
	select {
	case got := <-r.events:
		if got != want {
			t.Fatalf("event = %q, want %q", got, want)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for %q", want)
	}
}

func (r *recorder) expectQuiet(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case got := <-r.events:
		t.Fatalf("unexpected event %q", got)
	case <-time.After(d):
	}
}

func fastRetry(max int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: max,
		Factor:      2,
		MinInterval: 5 * time.Millisecond,
		MaxInterval: 20 * time.Millisecond,
	}
}

func newTestTransport(t *testing.T, url string, opts ...Option) *Transport {
	t.Helper()
	log := testlog.Start(t)
	opts = append([]Option{WithLogger(log), WithRetryPolicy(fastRetry(5))}, opts...)
	tr, err := New(url, opts...)
	if err != nil {
		t.Fatalf("new transport: %v", err)
	}
	t.Cleanup(tr.Close)
	return tr
}

func TestNewRejectsNonWebSocketURL(t *testing.T) {
	if _, err := New("http://example.com/ws"); !errors.Is(err, ErrBadURL) {
		t.Fatalf("expected ErrBadURL, got %v", err)
	}
	if _, err := New("::nope"); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestOpenSendReceive(t *testing.T) {
	srv := wstest.NewServer(t, wstest.Echo)
	tr := newTestTransport(t, srv.URL())
	rec := newRecorder()

	if err := tr.Connect(rec); err != nil {
		t.Fatalf("connect: %v", err)
	}
	rec.expect(t, "open")

	frame := []byte(`{"type":"message","messageID":"m1"}`)
	if got := tr.Send(frame); string(got) != string(frame) {
		t.Fatalf("Send returned %q", got)
	}
	select {
	case got := <-rec.frames:
		if got != string(frame) {
			t.Fatalf("echo = %q", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("no echo")
	}
	st := tr.Stats()
	if st.Connections != 1 || !st.Open || st.BytesSent != int64(len(frame)) {
		t.Fatalf("unexpected stats: %+v", st)
	}
}

func TestConnectTwiceDialsOnce(t *testing.T) {
	srv := wstest.NewServer(t, wstest.Hold)
	tr := newTestTransport(t, srv.URL())
	rec := newRecorder()

	_ = tr.Connect(rec)
	_ = tr.Connect(rec)
	rec.expect(t, "open")
	rec.expectQuiet(t, 100*time.Millisecond)
	if srv.Accepted() != 1 {
		t.Fatalf("accepted %d connections", srv.Accepted())
	}
	if err := tr.Connect(nil); !errors.Is(err, ErrNilListener) {
		t.Fatalf("expected ErrNilListener, got %v", err)
	}
}

func TestReconnectsAfterDrop(t *testing.T) {
	srv := wstest.NewServer(t, wstest.Hold)
	tr := newTestTransport(t, srv.URL())
	rec := newRecorder()

	_ = tr.Connect(rec)
	rec.expect(t, "open")

	srv.DropAll()
	rec.expect(t, "disconnected")
	rec.expect(t, "open")

	if srv.Accepted() != 2 {
		t.Fatalf("accepted %d connections, want 2", srv.Accepted())
	}
	if tr.Attempt() != 0 {
		t.Fatalf("attempt not reset after open: %d", tr.Attempt())
	}
}

func TestFailedAttemptsThenDisconnectClassification(t *testing.T) {
	srv := wstest.NewServer(t, wstest.Hold)
	srv.Reject(true)
	tr := newTestTransport(t, srv.URL(), WithRetryPolicy(fastRetry(-1)))
	rec := newRecorder()

	_ = tr.Connect(rec)
	rec.expect(t, "fail")
	if err := <-rec.errs; !errors.Is(err, websocket.ErrBadHandshake) {
		t.Fatalf("expected bad handshake, got %v", err)
	}

	srv.Reject(false)
	for {
		select {
		case ev := <-rec.events:
			if ev == "fail" {
				continue
			}
			if ev != "open" {
				t.Fatalf("event = %q, want open", ev)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("never reopened")
		}
		break
	}

	srv.Reject(true)
	srv.DropAll()
	rec.expect(t, "disconnected")
	// после сообщения об обрыве дальнейшие неудачи обычные OnFail
	rec.expect(t, "fail")
}

func TestGivesUpAfterMaxAttempts(t *testing.T) {
	tr := newTestTransport(t, wstest.RefusedURL(t), WithRetryPolicy(fastRetry(3)))
	rec := newRecorder()

	_ = tr.Connect(rec)
	for i := 0; i < 3; i++ {
		rec.expect(t, "fail")
	}
	rec.expect(t, "close")
	rec.expectQuiet(t, 100*time.Millisecond)

	if !tr.IsClosed() {
		t.Fatalf("transport should be closed after giving up")
	}
	if err := tr.Connect(rec); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	tr.Close()
	rec.expectQuiet(t, 50*time.Millisecond)
}

func TestPeerNormalCloseIsTerminal(t *testing.T) {
	srv := wstest.NewServer(t, wstest.Hold)
	tr := newTestTransport(t, srv.URL())
	rec := newRecorder()

	_ = tr.Connect(rec)
	rec.expect(t, "open")

	srv.CloseAll(websocket.CloseNormalClosure, "done")
	rec.expect(t, "close")
	if !tr.IsClosed() {
		t.Fatalf("transport should be closed")
	}
	time.Sleep(50 * time.Millisecond)
	if srv.Accepted() != 1 {
		t.Fatalf("transport reconnected after normal close")
	}
}

func TestPeerGoingAwayReconnects(t *testing.T) {
	srv := wstest.NewServer(t, wstest.Hold)
	tr := newTestTransport(t, srv.URL())
	rec := newRecorder()

	_ = tr.Connect(rec)
	rec.expect(t, "open")

	srv.CloseAll(websocket.CloseGoingAway, "restart")
	rec.expect(t, "disconnected")
	rec.expect(t, "open")
}

func TestCloseIsIdempotentAndSendsBye(t *testing.T) {
	closeErr := make(chan error, 1)
	srv := wstest.NewServer(t, func(c *wstest.Conn) {
		for {
			if _, err := c.ReadText(); err != nil {
				closeErr <- err
				return
			}
		}
	})
	tr := newTestTransport(t, srv.URL())
	rec := newRecorder()

	_ = tr.Connect(rec)
	rec.expect(t, "open")

	tr.Close()
	tr.Close()

	select {
	case err := <-closeErr:
		var ce *websocket.CloseError
		if !errors.As(err, &ce) || ce.Code != websocket.CloseNormalClosure || ce.Text != "bye" {
			t.Fatalf("server saw %v, want normal close 'bye'", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("server never saw the close")
	}

	rec.expectQuiet(t, 100*time.Millisecond)
	if !tr.IsClosed() {
		t.Fatalf("IsClosed = false")
	}
	tr.Send([]byte(`{"type":"message","messageID":"late"}`))
}

func TestCloseDuringBackoffStopsRetrying(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 10, Factor: 2, MinInterval: 200 * time.Millisecond, MaxInterval: time.Second}
	tr := newTestTransport(t, wstest.RefusedURL(t), WithRetryPolicy(policy))
	rec := newRecorder()

	_ = tr.Connect(rec)
	rec.expect(t, "fail")
	tr.Close()
	rec.expectQuiet(t, 600*time.Millisecond)
}

func TestKeepaliveKeepsConnectionOpen(t *testing.T) {
	srv := wstest.NewServer(t, wstest.Hold)
	tr := newTestTransport(t, srv.URL(), WithKeepalive(20*time.Millisecond, 100*time.Millisecond))
	rec := newRecorder()

	_ = tr.Connect(rec)
	rec.expect(t, "open")
	rec.expectQuiet(t, 300*time.Millisecond)
}

func TestKeepaliveDetectsSilentPeer(t *testing.T) {
	release := make(chan struct{})
	srv := wstest.NewServer(t, func(c *wstest.Conn) {
		// не читает, поэтому на пинги никто не отвечает
		<-release
	})
	defer close(release)
	tr := newTestTransport(t, srv.URL(), WithKeepalive(20*time.Millisecond, 80*time.Millisecond))
	rec := newRecorder()

	_ = tr.Connect(rec)
	rec.expect(t, "open")
	rec.expect(t, "disconnected")
}

func TestKeepaliveInboundFramesExtendDeadline(t *testing.T) {
	stop := make(chan struct{})
	srv := wstest.NewServer(t, func(c *wstest.Conn) {
		// на пинги нет ответа; жив ли пир, видно только по фреймам данных
		c.SetPingHandler(func(string) error { return nil })
		go func() {
			for {
				if _, _, err := c.NextReader(); err != nil {
					return
				}
			}
		}()
		tick := time.NewTicker(20 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-stop:
				return
			case <-tick.C:
				if err := c.WriteText(`{"type":"message","messageID":"tick"}`); err != nil {
					return
				}
			}
		}
	})
	defer close(stop)
	tr := newTestTransport(t, srv.URL(), WithKeepalive(30*time.Millisecond, 100*time.Millisecond))
	rec := newRecorder()

	_ = tr.Connect(rec)
	rec.expect(t, "open")
	rec.expectQuiet(t, 400*time.Millisecond)
	if st := tr.Stats(); !st.Open || st.Connections != 1 {
		t.Fatalf("connection did not survive on data frames alone: %+v", st)
	}
}
