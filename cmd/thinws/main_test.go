package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/EgorLis/thinws/internal/ackserver"
	"github.com/EgorLis/thinws/internal/config"
	"github.com/EgorLis/thinws/internal/envelope"
	"github.com/EgorLis/thinws/internal/rpclient"
	"github.com/EgorLis/thinws/internal/testutil/testlog"
	"github.com/EgorLis/thinws/internal/testutil/wstest"
	"github.com/spf13/cobra"
)

func newTestApp(t *testing.T) (*app, *ackserver.Server) {
	t.Helper()
	log := testlog.Start(t)
	a := &app{
		cfg:         config.Default(),
		log:         log,
		openTimeout: 3 * time.Second,
	}
	acks := ackserver.New(log)
	srv := httptest.NewServer(a.serveRouter(acks, "/ws"))
	t.Cleanup(srv.Close)
	a.cfg.URL = "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	return a, acks
}

func run(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	cmd.SetArgs(args)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func decodeLine(t *testing.T, out string) envelope.Envelope {
	t.Helper()
	env, err := envelope.Decode([]byte(strings.TrimSpace(out)))
	if err != nil {
		t.Fatalf("output %q is not an envelope: %v", out, err)
	}
	return env
}

func TestSubscribeCommand(t *testing.T) {
	a, acks := newTestApp(t)
	out, err := run(t, subscribeCmd(a), "lobby")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	env := decodeLine(t, out)
	if env.Type != envelope.TypeAck || env.RoomID != "lobby" {
		t.Fatalf("unexpected answer: %+v", env)
	}
	if acks.Accepted() != 1 {
		t.Fatalf("accepted = %d", acks.Accepted())
	}
}

func TestSendCommandEchoesPayload(t *testing.T) {
	a, _ := newTestApp(t)
	out, err := run(t, sendCmd(a), "lobby", `{"text":"hi"}`)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if env := decodeLine(t, out); env.PayloadString("text") != "hi" {
		t.Fatalf("payload not echoed: %s", out)
	}
}

func TestRequestCommandRemoteError(t *testing.T) {
	a, _ := newTestApp(t)
	out, err := run(t, requestCmd(a), "--type", "ping", "--message-id", "m-1", "--payload", `{"fail":true}`)
	if !errors.Is(err, rpclient.ErrRemote) {
		t.Fatalf("expected remote error, got %v", err)
	}
	if env := decodeLine(t, out); !env.IsError() || env.MessageID != "m-1" {
		t.Fatalf("error envelope not printed: %s", out)
	}
}

func TestSendRejectsBadPayload(t *testing.T) {
	a, acks := newTestApp(t)
	if _, err := run(t, sendCmd(a), "lobby", `[1,2]`); err == nil {
		t.Fatalf("expected payload error")
	}
	if acks.Accepted() != 0 {
		t.Fatalf("dialed despite bad payload")
	}
}

func TestOpenRequiresURL(t *testing.T) {
	a := &app{cfg: config.Default(), log: testlog.Start(t), openTimeout: time.Second}
	if _, err := a.open(context.Background(), hooks{}); !errors.Is(err, config.ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestServeRouterHealthAndMetrics(t *testing.T) {
	a, _ := newTestApp(t)
	if _, err := run(t, subscribeCmd(a), "lobby"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	base := "http" + strings.TrimPrefix(strings.TrimSuffix(a.cfg.URL, "/ws"), "ws")

	resp, err := http.Get(base + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	defer resp.Body.Close()
	var health map[string]int
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("decode healthz: %v", err)
	}
	// handshake и subscribe
	if health["accepted"] != 1 || health["handled"] != 2 {
		t.Fatalf("health = %v", health)
	}

	mresp, err := http.Get(base + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	defer mresp.Body.Close()
	var body bytes.Buffer
	_, _ = body.ReadFrom(mresp.Body)
	if !strings.Contains(body.String(), "thinws_ackserver_accepted_total 1") {
		t.Fatalf("metrics missing accepted counter:\n%s", body.String())
	}
}

func TestParsePayload(t *testing.T) {
	if p, err := parsePayload("  "); err != nil || p != nil {
		t.Fatalf("empty payload: %v %v", p, err)
	}
	p, err := parsePayload(`{"n":3,"ok":true}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if p.GetFields()["n"].GetNumberValue() != 3 || !p.GetFields()["ok"].GetBoolValue() {
		t.Fatalf("unexpected payload: %v", p)
	}
}

func TestListenResubscribesAfterReconnect(t *testing.T) {
	subs := make(chan envelope.Envelope, 16)
	srv := wstest.NewServer(t, func(conn *wstest.Conn) {
		for {
			env, err := conn.ReadEnvelope()
			if err != nil {
				return
			}
			if env.Type == envelope.TypeSubscribe {
				subs <- env
			}
			if reply, ok := ackserver.Reply(env); ok {
				if err := conn.WriteEnvelope(reply); err != nil {
					return
				}
			}
		}
	})

	a := &app{cfg: config.Default(), log: testlog.Start(t), openTimeout: 3 * time.Second}
	a.cfg.URL = srv.URL()
	a.cfg.Retry.MinInterval = config.Duration{Duration: 10 * time.Millisecond}
	a.cfg.Retry.MaxInterval = config.Duration{Duration: 50 * time.Millisecond}

	cmd := listenCmd(a)
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	cmd.SetArgs([]string{"--subscribe", "lobby,news"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	expectRooms := func(round string) {
		t.Helper()
		got := map[string]bool{}
		for len(got) < 2 {
			select {
			case env := <-subs:
				got[env.RoomID] = true
			case <-time.After(3 * time.Second):
				cancel()
				t.Fatalf("%s: subscribed to %v, want lobby and news", round, got)
			}
		}
		if !got["lobby"] || !got["news"] {
			t.Fatalf("%s: subscribed to %v", round, got)
		}
	}
	expectRooms("first open")

	srv.DropAll()
	expectRooms("after reconnect")
	if srv.Accepted() < 2 {
		t.Fatalf("accepted = %d, want a second connection", srv.Accepted())
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("listen: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("listen did not stop on cancel")
	}
}
