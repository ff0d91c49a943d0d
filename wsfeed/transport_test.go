// Copyright 2025 CommerceKit Authors
// SPDX-License-Identifier: Apache-2.0

package wsfeed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/commercekit/storesync/storesync"
)

// feedServer is a minimal realtime endpoint: it acks the first subscribe
// frame and then hands the connection to the scenario function.
type feedServer struct {
	*httptest.Server
	authHeader atomic.Value // string
}

func newFeedServer(t *testing.T, scenario func(ctx context.Context, conn *websocket.Conn, sub clientFrame)) *feedServer {
	t.Helper()
	fs := &feedServer{}
	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fs.authHeader.Store(r.Header.Get("Authorization"))
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		ctx := r.Context()

		var sub clientFrame
		if err := wsjson.Read(ctx, conn, &sub); err != nil {
			t.Errorf("read subscribe: %v", err)
			return
		}
		if sub.Action != "subscribe" {
			t.Errorf("expected subscribe frame, got %q", sub.Action)
			return
		}
		if err := wsjson.Write(ctx, conn, serverFrame{Type: "ack", Channel: sub.Channel}); err != nil {
			t.Errorf("write ack: %v", err)
			return
		}
		scenario(ctx, conn, sub)
	}))
	t.Cleanup(fs.Server.Close)
	return fs
}

func (fs *feedServer) wsURL() string {
	return "ws" + strings.TrimPrefix(fs.Server.URL, "http")
}

func newTestTransport(url string) *Transport {
	return NewTransport(url, func(ctx context.Context) (string, error) {
		return "feed-token", nil
	}, nil)
}

func TestTransport_DeliversEventsInOrder(t *testing.T) {
	first := storesync.ChangeEvent{ID: uuid.New(), Kind: storesync.ChangeInsert, Table: storesync.EntityOrder}
	second := storesync.ChangeEvent{ID: uuid.New(), Kind: storesync.ChangeUpdate, Table: storesync.EntityOrder}

	srv := newFeedServer(t, func(ctx context.Context, conn *websocket.Conn, sub clientFrame) {
		wsjson.Write(ctx, conn, serverFrame{Type: "heartbeat"})
		wsjson.Write(ctx, conn, serverFrame{Type: "event", Channel: sub.Channel, Event: &first})
		wsjson.Write(ctx, conn, serverFrame{Type: "event", Channel: sub.Channel, Event: &second})
		// Keep the connection open until the client closes it.
		var discard clientFrame
		wsjson.Read(ctx, conn, &discard)
	})

	tr := newTestTransport(srv.wsURL())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub, err := tr.Subscribe(ctx, "tenant1:orders:1", storesync.EntityOrder, "tenant1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close(ctx)

	got1 := <-sub.Events()
	got2 := <-sub.Events()
	if got1.ID != first.ID || got2.ID != second.ID {
		t.Fatalf("events out of order: got %s then %s", got1.ID, got2.ID)
	}
	if auth, _ := srv.authHeader.Load().(string); auth != "Bearer feed-token" {
		t.Fatalf("missing bearer token, got %q", auth)
	}
}

func TestTransport_SubscribeSendsChannelAndTenant(t *testing.T) {
	frames := make(chan clientFrame, 1)
	srv := newFeedServer(t, func(ctx context.Context, conn *websocket.Conn, sub clientFrame) {
		frames <- sub
		var discard clientFrame
		wsjson.Read(ctx, conn, &discard)
	})

	tr := newTestTransport(srv.wsURL())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub, err := tr.Subscribe(ctx, "tenant1:customers:42", storesync.EntityCustomer, "tenant1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close(ctx)

	frame := <-frames
	if frame.Channel != "tenant1:customers:42" || frame.Table != storesync.EntityCustomer || frame.TenantID != "tenant1" {
		t.Fatalf("unexpected subscribe frame: %+v", frame)
	}
}

func TestTransport_ServerRejectionFailsSubscribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		ctx := r.Context()
		var sub clientFrame
		wsjson.Read(ctx, conn, &sub)
		wsjson.Write(ctx, conn, serverFrame{Type: "error", Error: "channel already taken"})
	}))
	defer srv.Close()

	tr := newTestTransport("ws" + strings.TrimPrefix(srv.URL, "http"))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := tr.Subscribe(ctx, "tenant1:orders:1", storesync.EntityOrder, "tenant1"); err == nil ||
		!strings.Contains(err.Error(), "channel already taken") {
		t.Fatalf("expected rejection error, got %v", err)
	}
}

func TestTransport_CloseSendsUnsubscribeAndEndsStream(t *testing.T) {
	unsubs := make(chan clientFrame, 1)
	srv := newFeedServer(t, func(ctx context.Context, conn *websocket.Conn, sub clientFrame) {
		var frame clientFrame
		if err := wsjson.Read(ctx, conn, &frame); err == nil && frame.Action == "unsubscribe" {
			unsubs <- frame
		}
	})

	tr := newTestTransport(srv.wsURL())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub, err := tr.Subscribe(ctx, "tenant1:orders:7", storesync.EntityOrder, "tenant1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := sub.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	// Second close is a no-op.
	if err := sub.Close(ctx); err != nil {
		t.Fatalf("second close: %v", err)
	}

	select {
	case frame := <-unsubs:
		if frame.Channel != "tenant1:orders:7" {
			t.Fatalf("unsubscribe for wrong channel: %q", frame.Channel)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server never saw the unsubscribe frame")
	}

	select {
	case _, ok := <-sub.Events():
		if ok {
			t.Fatal("expected closed events channel")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("events channel did not close")
	}
	if err := sub.Err(); err != nil {
		t.Fatalf("deliberate close must not record a stream error, got %v", err)
	}
}

func TestTransport_ConnectionDropRecordsError(t *testing.T) {
	srv := newFeedServer(t, func(ctx context.Context, conn *websocket.Conn, sub clientFrame) {
		conn.Close(websocket.StatusInternalError, "going away")
	})

	tr := newTestTransport(srv.wsURL())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub, err := tr.Subscribe(ctx, "tenant1:locations:1", storesync.EntityLocation, "tenant1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close(ctx)

	select {
	case _, ok := <-sub.Events():
		if ok {
			t.Fatal("expected closed events channel")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("events channel did not close after server drop")
	}
	if sub.Err() == nil {
		t.Fatal("abnormal closure must surface through Err")
	}
}
