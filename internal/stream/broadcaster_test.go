package stream

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/cadenza-audio/cadenza/internal/audio"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroadcaster()

	l1 := b.Subscribe()
	l2 := b.Subscribe()
	if b.ListenerCount() != 2 {
		t.Errorf("ListenerCount = %d, want 2", b.ListenerCount())
	}

	b.Unsubscribe(l1)
	if b.ListenerCount() != 1 {
		t.Errorf("ListenerCount = %d, want 1", b.ListenerCount())
	}

	select {
	case <-l1.done:
	default:
		t.Error("unsubscribed listener's done channel still open")
	}

	b.Unsubscribe(l2)
	b.Unsubscribe(l2) // double unsubscribe must not panic
	if b.ListenerCount() != 0 {
		t.Errorf("ListenerCount = %d, want 0", b.ListenerCount())
	}
}

func TestBroadcastDelivers(t *testing.T) {
	b := NewBroadcaster()
	l := b.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	source := make(chan []float32, 4)
	go b.Run(ctx, source)

	block := []float32{0.1, -0.2, 0.3, -0.4}
	source <- block

	select {
	case got := <-l.C:
		if len(got) != len(block) {
			t.Fatalf("block length %d, want %d", len(got), len(block))
		}
		for i, v := range got {
			if v != block[i] {
				t.Errorf("block[%d] = %v, want %v", i, v, block[i])
			}
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for block")
	}
}

func TestBroadcastMultipleListeners(t *testing.T) {
	b := NewBroadcaster()
	listeners := make([]*Listener, 5)
	for i := range listeners {
		listeners[i] = b.Subscribe()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	source := make(chan []float32, 1)
	go b.Run(ctx, source)

	source <- []float32{1, 2}
	for i, l := range listeners {
		select {
		case <-l.C:
		case <-time.After(time.Second):
			t.Fatalf("listener %d never received the block", i)
		}
	}
}

func TestSlowListenerDropsInsteadOfBlocking(t *testing.T) {
	b := NewBroadcaster()
	l := b.Subscribe()
	defer b.Unsubscribe(l)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	source := make(chan []float32)
	go b.Run(ctx, source)

	// Never read from l.C. The broadcast must keep accepting blocks well
	// past the listener's buffer capacity.
	block := make([]float32, 4)
	for i := 0; i < listenerBuffer+50; i++ {
		select {
		case source <- block:
		case <-time.After(time.Second):
			t.Fatalf("broadcast stalled on a slow listener at block %d", i)
		}
	}
}

func TestPCMHandlerStreamsAudio(t *testing.T) {
	b := NewBroadcaster()
	ctx, cancel := context.WithCancel(context.Background())
	source := make(chan []float32, 8)
	go b.Run(ctx, source)

	h := NewPCMHandler(b, quietLogger())

	reqCtx, cancelReq := context.WithCancel(context.Background())
	req := httptest.NewRequest("GET", "/stream.pcm", nil).WithContext(reqCtx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		h.ServeHTTP(rec, req)
		close(done)
	}()

	// Let the handler subscribe, feed one block, give it time to land.
	waitFor(t, func() bool { return b.ListenerCount() == 1 })
	source <- []float32{0.5, -0.5, 0.25, -0.25}
	time.Sleep(200 * time.Millisecond)

	cancelReq()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not exit on request cancellation")
	}
	cancel()

	if ct := rec.Header().Get("Content-Type"); ct != "audio/L16;rate=48000;channels=2" {
		t.Errorf("Content-Type = %q", ct)
	}
	body := rec.Body.Bytes()
	if len(body) != 8 {
		t.Fatalf("body = %d bytes, want 8 (4 samples of s16le)", len(body))
	}
	// 0.5 * 32767 = 16383, little-endian.
	want := audio.Int16ToBytes(audio.FloatsToInt16([]float32{0.5, -0.5, 0.25, -0.25}))
	for i := range want {
		if body[i] != want[i] {
			t.Fatalf("body[%d] = %#x, want %#x", i, body[i], want[i])
		}
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never met")
}
