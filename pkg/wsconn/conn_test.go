package wsconn

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestUpgradeDialRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ReadTimeout = 2 * time.Second
	cfg.WriteTimeout = 2 * time.Second

	received := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := Upgrade(w, r, cfg)
		if err != nil {
			t.Errorf("server upgrade: %v", err)
			return
		}
		conn.ReadLoop(func(msg []byte, isBinary bool) {
			received <- string(msg)
		}, func(error) {})
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	client, err := Dial(ctx, url, nil, cfg)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	if err := client.Send([]byte("hello"), false); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case got := <-received:
		if got != "hello" {
			t.Fatalf("server received %q, want %q", got, "hello")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server to receive message")
	}
}

func TestCorkSendDoesNotDeadlock(t *testing.T) {
	cfg := DefaultConfig()
	received := make(chan string, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := Upgrade(w, r, cfg)
		if err != nil {
			t.Errorf("server upgrade: %v", err)
			return
		}
		conn.ReadLoop(func(msg []byte, isBinary bool) {
			received <- string(msg)
		}, func(error) {})
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	client, err := Dial(ctx, url, nil, cfg)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		client.Cork(func() {
			_ = client.Send([]byte("head"), false)
			_ = client.Send([]byte("frame"), true)
		})
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Cork(Send) deadlocked")
	}

	for i := 0; i < 2; i++ {
		select {
		case <-received:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for corked messages")
		}
	}
}

func TestHasLowSendBackpressureDefaultsTrue(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LowBackpressureThresholdBytes = 1 << 20

	received := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := Upgrade(w, r, cfg)
		if err != nil {
			t.Errorf("server upgrade: %v", err)
			return
		}
		conn.ReadLoop(func(msg []byte, isBinary bool) { received <- struct{}{} }, func(error) {})
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	client, err := Dial(ctx, url, nil, cfg)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer client.Close()

	if !client.HasLowSendBackpressure() {
		t.Fatal("expected low backpressure on an idle connection")
	}

	if err := client.Send([]byte("x"), false); err != nil {
		t.Fatalf("send: %v", err)
	}
	<-received

	if !client.HasLowSendBackpressure() {
		t.Fatal("expected low backpressure after the write completed")
	}
}
