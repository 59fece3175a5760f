package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/starford/sddbundle/internal/models"
)

func drain(ch chan []byte) []string {
	var out []string
	for {
		select {
		case msg := <-ch:
			out = append(out, string(msg))
		default:
			return out
		}
	}
}

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients")
	}
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}
	b.Unsubscribe(ch)
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after unsub")
	}
}

func TestPublishReload(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.PublishReload(ReloadSummary{Entities: 4, Errors: 1, BatchID: "b-1"})

	select {
	case msg := <-ch:
		s := string(msg)
		if !strings.Contains(s, "event: bundle.reloaded") {
			t.Errorf("missing event type in %q", s)
		}
		if !strings.Contains(s, `"entities":4`) || !strings.Contains(s, `"batchId":"b-1"`) {
			t.Errorf("missing data in %q", s)
		}
		if !strings.HasPrefix(s, "id: 1\n") {
			t.Errorf("missing event id in %q", s)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestPublishEntityEvent_GraphThrottle(t *testing.T) {
	b := NewBroker(500 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.PublishEntityEvent("created", models.EntityKey{Type: "Task", ID: "TASK-002"})
	b.PublishEntityEvent("updated", models.EntityKey{Type: "Requirement", ID: "REQ-001"})
	b.PublishEntityEvent("renamed", models.EntityKey{Type: "Task", ID: "TASK-003"})

	time.Sleep(50 * time.Millisecond)
	graphCount, entityCount := 0, 0
	for _, s := range drain(ch) {
		switch {
		case strings.Contains(s, "event: graph.updated"):
			graphCount++
		case strings.Contains(s, "event: entity."):
			entityCount++
		}
	}

	if entityCount != 2 {
		t.Errorf("entity events = %d, want 2 (unknown kind ignored)", entityCount)
	}
	if graphCount != 1 {
		t.Errorf("graph events = %d, want 1 (throttled)", graphCount)
	}
}

func TestSSEHandler(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req = req.WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client from handler")
	}

	b.PublishEntityEvent("deleted", models.EntityKey{Type: "Task", ID: "TASK-001"})
	time.Sleep(50 * time.Millisecond)

	cancel()
	<-done

	body := w.Body.String()
	if !strings.Contains(body, "event: entity.deleted") || !strings.Contains(body, `"id":"TASK-001"`) {
		t.Errorf("handler output missing event: %q", body)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}

	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 0 {
		t.Errorf("client not cleaned up after disconnect")
	}
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	for i := 0; i < 70; i++ {
		b.Publish(Event{Type: "test", Data: map[string]int{"i": i}})
	}
	// Reaching here means the loop never blocked on the full client buffer.
}

func TestCloseClosesSubscribersAndStopsOperations(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}

	b.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected subscriber channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}

	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after close")
	}

	b.PublishReload(ReloadSummary{})
	b.PublishEntityEvent("updated", models.EntityKey{Type: "Task", ID: "TASK-001"})
}

func TestSubscribeAfterReplaysMissedEvents(t *testing.T) {
	b := NewBroker(time.Hour)
	defer b.Close()

	b.PublishReload(ReloadSummary{Entities: 1})
	b.PublishReload(ReloadSummary{Entities: 2})
	b.PublishReload(ReloadSummary{Entities: 3})

	time.Sleep(30 * time.Millisecond)

	ch := b.SubscribeAfter(1)
	defer b.Unsubscribe(ch)
	time.Sleep(30 * time.Millisecond)

	got := drain(ch)
	if len(got) != 2 {
		t.Fatalf("replayed %d events, want 2: %q", len(got), got)
	}
	if !strings.HasPrefix(got[0], "id: 2\n") || !strings.HasPrefix(got[1], "id: 3\n") {
		t.Errorf("replay order = %q", got)
	}

	fresh := b.Subscribe()
	defer b.Unsubscribe(fresh)
	time.Sleep(30 * time.Millisecond)
	if n := len(drain(fresh)); n != 0 {
		t.Errorf("plain subscribe replayed %d events", n)
	}
}

func TestSSEHandler_LastEventID(t *testing.T) {
	b := NewBroker(time.Hour)
	defer b.Close()
	b.PublishEntityEvent("created", models.EntityKey{Type: "Task", ID: "TASK-009"})
	time.Sleep(30 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/events", nil).WithContext(ctx)
	req.Header.Set("Last-Event-ID", "1")
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	body := w.Body.String()
	if !strings.Contains(body, "event: graph.updated") {
		t.Errorf("expected replayed graph.updated after id 1: %q", body)
	}
	if strings.Contains(body, "event: entity.created") {
		t.Errorf("event 1 should not be replayed: %q", body)
	}
}
