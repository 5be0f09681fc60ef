package realtime

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/vertexlabs/vertexpay/internal/notify"
)

func testHub() *Hub {
	return NewHub(slog.Default())
}

// ---------------------------------------------------------------------------
// shouldSend tests
// ---------------------------------------------------------------------------

func TestShouldSend_AllEvents(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{AllEvents: true}}

	event := &Event{Type: EventPaymentCreated, Timestamp: time.Now()}
	if !h.shouldSend(client, event) {
		t.Error("AllEvents client should receive all events")
	}
}

func TestShouldSend_EventTypeFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{
		EventTypes: []EventType{EventPaymentReleased, EventDisputeOpened},
	}}

	released := &Event{Type: EventPaymentReleased}
	dispute := &Event{Type: EventDisputeOpened}
	withdrawal := &Event{Type: EventWithdrawal}

	if !h.shouldSend(client, released) {
		t.Error("Should receive release events")
	}
	if !h.shouldSend(client, dispute) {
		t.Error("Should receive dispute events")
	}
	if h.shouldSend(client, withdrawal) {
		t.Error("Should NOT receive withdrawal events")
	}
}

func TestShouldSend_UserAndJobFilters(t *testing.T) {
	h := testHub()

	userClient := &Client{sub: Subscription{UserIDs: []string{"provider-1"}}}
	jobClient := &Client{sub: Subscription{JobIDs: []string{"job-9"}}}

	event := &Event{Type: EventPaymentReleased, UserID: "provider-1", JobID: "job-9"}
	other := &Event{Type: EventPaymentReleased, UserID: "provider-2", JobID: "job-2"}

	if !h.shouldSend(userClient, event) {
		t.Error("Should match on user ID")
	}
	if h.shouldSend(userClient, other) {
		t.Error("Should NOT match unrelated users")
	}
	if !h.shouldSend(jobClient, event) {
		t.Error("Should match on job ID")
	}
	if h.shouldSend(jobClient, other) {
		t.Error("Should NOT match unrelated jobs")
	}
}

func TestShouldSend_MinAmountFilter(t *testing.T) {
	h := testHub()

	client := &Client{sub: Subscription{MinAmount: "10.00"}}

	large := &Event{Type: EventPaymentReleased, Amount: "15.000000"}
	small := &Event{Type: EventPaymentReleased, Amount: "5.000000"}
	debit := &Event{Type: EventWithdrawal, Amount: "-20.000000"}
	noAmount := &Event{Type: EventJobCancelled}

	if !h.shouldSend(client, large) {
		t.Error("Should receive large payment")
	}
	if h.shouldSend(client, small) {
		t.Error("Should NOT receive small payment")
	}
	if !h.shouldSend(client, debit) {
		t.Error("MinAmount compares magnitudes, debits included")
	}
	if !h.shouldSend(client, noAmount) {
		t.Error("Events without an amount pass the amount filter")
	}
}

func TestShouldSend_EmptySubscription(t *testing.T) {
	h := testHub()

	// No filters, not AllEvents
	client := &Client{sub: Subscription{}}

	event := &Event{Type: EventPaymentCreated}
	if !h.shouldSend(client, event) {
		t.Error("Empty subscription (no filters) should receive events")
	}
}

// ---------------------------------------------------------------------------
// Hub lifecycle tests
// ---------------------------------------------------------------------------

func TestHub_Stats_Initial(t *testing.T) {
	h := testHub()

	stats := h.Stats()
	if stats["connectedClients"].(int) != 0 {
		t.Errorf("Expected 0 connected clients, got %v", stats["connectedClients"])
	}
	if stats["totalEvents"].(int64) != 0 {
		t.Errorf("Expected 0 total events, got %v", stats["totalEvents"])
	}
}

func TestHub_BroadcastAndStats(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	h.Broadcast(&Event{Type: EventPaymentCreated, Timestamp: time.Now()})
	time.Sleep(50 * time.Millisecond)

	stats := h.Stats()
	if stats["totalEvents"].(int64) != 1 {
		t.Errorf("Expected 1 total event, got %v", stats["totalEvents"])
	}
}

func TestHub_RegisterUnregister(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{AllEvents: true},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	stats := h.Stats()
	if stats["connectedClients"].(int) != 1 {
		t.Errorf("Expected 1 connected client, got %v", stats["connectedClients"])
	}
	if stats["peakClients"].(int64) != 1 {
		t.Errorf("Expected peak 1, got %v", stats["peakClients"])
	}

	h.unregister <- client
	time.Sleep(50 * time.Millisecond)

	stats = h.Stats()
	if stats["connectedClients"].(int) != 0 {
		t.Errorf("Expected 0 connected clients after unregister, got %v", stats["connectedClients"])
	}
	// Peak should still be 1
	if stats["peakClients"].(int64) != 1 {
		t.Errorf("Expected peak still 1, got %v", stats["peakClients"])
	}
}

func TestHub_BroadcastToClient(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{AllEvents: true},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	h.Broadcast(&Event{
		Type:      EventPaymentReleased,
		Timestamp: time.Now(),
		UserID:    "provider-1",
		Amount:    "90.000000",
	})

	select {
	case msg := <-client.send:
		if len(msg) == 0 {
			t.Error("Expected non-empty message")
		}
	case <-time.After(time.Second):
		t.Error("Timeout waiting for broadcast")
	}
}

func TestHub_SinkBridgesNotifications(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{AllEvents: true},
	}
	h.register <- client
	time.Sleep(50 * time.Millisecond)

	sink := h.Sink()
	sink.Notify(ctx, notify.Notification{
		RecipientID: "provider-1",
		Kind:        notify.KindPaymentReleased,
		JobID:       "job-1",
		Amount:      "90.000000",
		CreatedAt:   time.Now(),
	})

	select {
	case msg := <-client.send:
		if len(msg) == 0 {
			t.Error("Expected non-empty message")
		}
	case <-time.After(time.Second):
		t.Error("Timeout waiting for bridged notification")
	}
}

func TestHub_ContextCancellation(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
		// Hub stopped
	case <-time.After(2 * time.Second):
		t.Error("Hub did not stop after context cancellation")
	}
}

func TestHub_FilteredBroadcast(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	// Client only wants disputes
	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{EventTypes: []EventType{EventDisputeOpened}},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	// Send a payment event (should be filtered out)
	h.Broadcast(&Event{Type: EventPaymentCreated, Timestamp: time.Now()})
	time.Sleep(100 * time.Millisecond)

	select {
	case <-client.send:
		t.Error("Client should NOT receive payment event")
	default:
		// Good - filtered out
	}

	// Send a dispute event (should be received)
	h.Broadcast(&Event{Type: EventDisputeOpened, Timestamp: time.Now()})

	select {
	case msg := <-client.send:
		if len(msg) == 0 {
			t.Error("Expected non-empty message")
		}
	case <-time.After(time.Second):
		t.Error("Client should receive dispute event")
	}
}
