package local

import (
	"context"
	"testing"
	"time"

	"github.com/unkn0wn-root/tiercache"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func TestBusFansOutToOtherSubscribersOnly(t *testing.T) {
	bus := NewBus()
	a := bus.NewBackplane("a")
	b := bus.NewBackplane("b")
	defer a.Dispose()
	defer b.Dispose()

	var aReceived, bReceived []tiercache.BackplaneMessage
	if err := a.Subscribe(func(msg tiercache.BackplaneMessage) { aReceived = append(aReceived, msg) }); err != nil {
		t.Fatalf("a.Subscribe: %v", err)
	}
	if err := b.Subscribe(func(msg tiercache.BackplaneMessage) { bReceived = append(bReceived, msg) }); err != nil {
		t.Fatalf("b.Subscribe: %v", err)
	}

	ctx := context.Background()
	if err := a.Publish(ctx, tiercache.BackplaneMessage{Op: tiercache.BackplaneChanged, Key: "k1"}); err != nil {
		t.Fatalf("a.Publish: %v", err)
	}

	waitFor(t, time.Second, func() bool { return len(bReceived) == 1 })
	if len(aReceived) != 0 {
		t.Fatalf("publisher should not receive its own message (loopback suppression), got %d", len(aReceived))
	}
	if bReceived[0].Key != "k1" || bReceived[0].SenderID != "a" {
		t.Fatalf("received message = %+v, want Key=k1 SenderID=a", bReceived[0])
	}
}

func TestBackplaneDisposeDetachesFromBus(t *testing.T) {
	bus := NewBus()
	a := bus.NewBackplane("a")
	if err := a.Subscribe(func(tiercache.BackplaneMessage) {}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := a.Dispose(); err != nil {
		t.Fatalf("Dispose: %v", err)
	}
	if err := a.Dispose(); err != nil {
		t.Fatalf("second Dispose should be a no-op, got %v", err)
	}

	bus.mu.Lock()
	_, stillThere := bus.subs["a"]
	bus.mu.Unlock()
	if stillThere {
		t.Fatalf("disposed backplane should have been removed from the bus")
	}
}

func TestNewBackplaneGeneratesSenderIDWhenEmpty(t *testing.T) {
	bus := NewBus()
	a := bus.NewBackplane("")
	defer a.Dispose()
	if a.SenderID() == "" {
		t.Fatalf("SenderID() should not be empty when none was supplied")
	}
}
