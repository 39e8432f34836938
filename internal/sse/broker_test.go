package sse

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/starford/driftguard/internal/models"
)

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

func TestPublishDelivery(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.Warn("a.conf", errors.New("permission denied"))

	select {
	case msg := <-ch:
		s := string(msg)
		if !strings.Contains(s, "event: file.unreadable") {
			t.Errorf("missing event type in %q", s)
		}
		if !strings.Contains(s, `"path":"a.conf"`) {
			t.Errorf("missing data in %q", s)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestReport_StatusThrottle(t *testing.T) {
	b := NewBroker(500 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	// First report should trigger status.updated.
	b.Report(&models.DriftReport{ID: "1", Records: []models.DriftRecord{{Path: "a.conf", Kind: models.DriftModified}}})
	// Second report immediately should NOT trigger another status.updated.
	b.Report(&models.DriftReport{ID: "2", Records: []models.DriftRecord{}})

	time.Sleep(50 * time.Millisecond)
	var detected, clear, status int
loop:
	for {
		select {
		case msg := <-ch:
			s := string(msg)
			switch {
			case strings.Contains(s, "event: "+EventStatusUpdated):
				status++
			case strings.Contains(s, "event: "+EventDriftDetected):
				detected++
				if !strings.Contains(s, `"kind":"modified"`) {
					t.Errorf("drift payload missing kind: %q", s)
				}
			case strings.Contains(s, "event: "+EventDriftClear):
				clear++
			}
		default:
			break loop
		}
	}

	if detected != 1 || clear != 1 {
		t.Errorf("detected = %d, clear = %d, want 1 and 1", detected, clear)
	}
	if status != 1 {
		t.Errorf("status events = %d, want 1 (throttled)", status)
	}
}

func TestSSEHandler(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()

	// Start handler in background.
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

	// Give handler time to subscribe.
	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client from handler")
	}

	b.Report(&models.DriftReport{Records: []models.DriftRecord{{Path: "x.conf", Kind: models.DriftDeleted}}})
	time.Sleep(50 * time.Millisecond)

	// Cancel context to disconnect.
	cancel()
	<-done

	body := w.Body.String()
	if !strings.Contains(body, "event: drift.detected") {
		t.Errorf("handler output missing event: %q", body)
	}

	// Client should be cleaned up.
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

	// Fill buffer (capacity 64) and then one more should not block.
	for range 70 {
		b.Warn("x.conf", errors.New("denied"))
	}
	// If we reach here without deadlock, the test passes.
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

	// Should be safe no-op after close.
	b.Warn("x.conf", errors.New("denied"))
	b.Report(&models.DriftReport{})
}

func TestLateSubscriberGetsLastReport(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()

	early := b.Subscribe()
	defer b.Unsubscribe(early)

	b.Report(&models.DriftReport{ID: "first", Records: []models.DriftRecord{{Path: "a.conf", Kind: models.DriftNew}}})
	b.Report(&models.DriftReport{ID: "second", Root: "/etc/app"})
	// Once the early client sees the second report, the broker holds it.
	deadline := time.After(time.Second)
	for seen := false; !seen; {
		select {
		case msg := <-early:
			seen = strings.Contains(string(msg), `"id":"second"`)
		case <-deadline:
			t.Fatal("early subscriber never saw the second report")
		}
	}

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	select {
	case msg := <-ch:
		s := string(msg)
		if !strings.Contains(s, "event: "+EventDriftClear) || !strings.Contains(s, `"id":"second"`) {
			t.Errorf("replayed %q, want the latest drift.clear", s)
		}
		if !strings.HasPrefix(s, "id: ") {
			t.Errorf("frame without id: %q", s)
		}
	case <-time.After(time.Second):
		t.Fatal("no replay for late subscriber")
	}
}

func TestSSEHandlerHeartbeat(t *testing.T) {
	b := NewBroker(time.Second)
	b.heartbeat = 20 * time.Millisecond
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/events", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	b.ServeHTTP(w, req)

	if !strings.Contains(w.Body.String(), ": ping\n\n") {
		t.Errorf("no heartbeat in %q", w.Body.String())
	}
	if got := w.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Errorf("content type = %q", got)
	}
}
