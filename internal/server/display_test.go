package server

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/Eric-C-E/ESP32-LLL/internal/dispatch"
)

func newTestRenderer(t *testing.T, history int) (*Renderer, chan dispatch.Message, chan dispatch.Message) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	d1 := make(chan dispatch.Message, 8)
	d2 := make(chan dispatch.Message, 8)
	r, err := NewRenderer(logger, d1, d2, history)
	if err != nil {
		t.Fatalf("NewRenderer failed: %v", err)
	}
	return r, d1, d2
}

func waitShown(t *testing.T, r *Renderer, want [2]uint64) DisplaySnapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		snap := r.Snapshot()
		if snap.Shown == want {
			return snap
		}
		if time.Now().After(deadline) {
			t.Fatalf("Expected %v lines shown, got %v", want, snap.Shown)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRendererShowsBothDisplays(t *testing.T) {
	r, d1, d2 := newTestRenderer(t, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	now := time.Now()
	d1 <- dispatch.Message{Destination: dispatch.Display1, Text: []byte("hola"), ReceivedAt: now}
	d2 <- dispatch.Message{Destination: dispatch.Display2, Text: []byte("hello"), ReceivedAt: now}

	snap := waitShown(t, r, [2]uint64{1, 1})
	if len(snap.Display1) != 1 || snap.Display1[0].Text != "hola" {
		t.Errorf("Unexpected display1 content: %+v", snap.Display1)
	}
	if len(snap.Display2) != 1 || snap.Display2[0].Text != "hello" {
		t.Errorf("Unexpected display2 content: %+v", snap.Display2)
	}
}

func TestRendererKeepsLatestLines(t *testing.T) {
	r, d1, _ := newTestRenderer(t, 2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	for _, text := range []string{"one", "two", "three"} {
		d1 <- dispatch.Message{Destination: dispatch.Display1, Text: []byte(text)}
	}

	snap := waitShown(t, r, [2]uint64{3, 0})
	if len(snap.Display1) != 2 {
		t.Fatalf("Expected 2 retained lines, got %d", len(snap.Display1))
	}
	if snap.Display1[0].Text != "two" || snap.Display1[1].Text != "three" {
		t.Errorf("Expected [two three], got %+v", snap.Display1)
	}
}

func TestRendererReplacesInvalidUTF8(t *testing.T) {
	r, _, d2 := newTestRenderer(t, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	d2 <- dispatch.Message{Destination: dispatch.Display2, Text: []byte{'o', 'k', 0xff}}

	snap := waitShown(t, r, [2]uint64{0, 1})
	if snap.Display2[0].Text != "ok?" {
		t.Errorf("Expected invalid byte replaced, got %q", snap.Display2[0].Text)
	}
}

func TestRendererRunStopsOnCancel(t *testing.T) {
	r, _, _ := newTestRenderer(t, 1)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestNewRendererValidation(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	d := make(chan dispatch.Message)

	if _, err := NewRenderer(logger, nil, d, 4); err == nil {
		t.Error("Expected error for missing display1 queue")
	}
	if _, err := NewRenderer(logger, d, d, 0); err == nil {
		t.Error("Expected error for zero history")
	}
}
