// Package local implements an in-process tiercache.Backplane: a fan-out
// bus for same-process multi-manager tests and single-node deployments
// that still want coherence between several Manager instances sharing a
// conceptual "distributed" tier without a real network hop. It is
// grounded on the same bounded-channel-plus-goroutine idiom as a worker
// pool: one delivery goroutine per subscriber, drop-on-full.
package local

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"

	"github.com/unkn0wn-root/tiercache"
)

func randomSenderID() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// Bus fans every Publish out to every other Backplane attached to it.
// Delivery is best-effort: a subscriber whose queue is full drops the
// message, matching the non-guaranteed-delivery contract.
type Bus struct {
	mu   sync.Mutex
	subs map[string]*Backplane
}

// NewBus returns an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string]*Backplane)}
}

// NewBackplane attaches a new Backplane to the bus under senderID. An
// empty senderID generates a random one.
func (b *Bus) NewBackplane(senderID string) *Backplane {
	if senderID == "" {
		senderID = randomSenderID()
	}
	bp := &Backplane{
		bus:      b,
		senderID: senderID,
		ch:       make(chan tiercache.BackplaneMessage, 256),
		stopCh:   make(chan struct{}),
	}
	b.mu.Lock()
	b.subs[senderID] = bp
	b.mu.Unlock()
	return bp
}

func (b *Bus) publish(msg tiercache.BackplaneMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, sub := range b.subs {
		if id == msg.SenderID {
			continue // loopback suppression
		}
		select {
		case sub.ch <- msg:
		default: // drop: subscriber is behind
		}
	}
}

func (b *Bus) remove(senderID string) {
	b.mu.Lock()
	delete(b.subs, senderID)
	b.mu.Unlock()
}

// Backplane is one Bus subscriber.
type Backplane struct {
	bus      *Bus
	senderID string
	ch       chan tiercache.BackplaneMessage
	stopCh   chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

var _ tiercache.Backplane = (*Backplane)(nil)

func (bp *Backplane) SenderID() string { return bp.senderID }

// Publish stamps msg with this backplane's sender id and fans it out to
// every other subscriber on the bus. It never blocks on a slow
// subscriber.
func (bp *Backplane) Publish(ctx context.Context, msg tiercache.BackplaneMessage) error {
	msg.SenderID = bp.senderID
	bp.bus.publish(msg)
	return nil
}

// Subscribe starts this backplane's single dispatch goroutine. May only be
// called once.
func (bp *Backplane) Subscribe(handler tiercache.BackplaneHandler) error {
	bp.wg.Add(1)
	go func() {
		defer bp.wg.Done()
		for {
			select {
			case msg := <-bp.ch:
				handler(msg)
			case <-bp.stopCh:
				return
			}
		}
	}()
	return nil
}

// Factory returns a tiercache.BackplaneFactory that attaches every
// constructed Backplane to bus, registerable into a tiercache.Registry[V]
// under a type name like "local". The channel argument is ignored: the
// bus itself is the coordination domain.
func Factory(bus *Bus) tiercache.BackplaneFactory {
	return func(_ string, _ tiercache.FactoryDeps, opts map[string]any) (tiercache.Backplane, error) {
		senderID, _ := opts["sender_id"].(string)
		return bus.NewBackplane(senderID), nil
	}
}

// Dispose detaches from the bus and stops the dispatch goroutine.
// Idempotent.
func (bp *Backplane) Dispose() error {
	bp.once.Do(func() {
		close(bp.stopCh)
		bp.wg.Wait()
		bp.bus.remove(bp.senderID)
	})
	return nil
}
