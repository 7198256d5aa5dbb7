// Package redispubsub implements a tiercache.Backplane over Redis Pub/Sub:
// the out-of-band coordination channel that keeps in-process tiers on
// multiple nodes coherent with a shared distributed handle. Messages are
// framed with internal/wire's binary format and loopback is suppressed by
// comparing each delivered message's sender id against this process's own.
package redispubsub

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"sync"

	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/tiercache"
	"github.com/unkn0wn-root/tiercache/internal/wire"
)

var ErrNilClient = errors.New("redispubsub: nil client")

func randomSenderID() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

func opByte(op tiercache.BackplaneOp) byte { return byte(op) }

// Config configures a Backplane.
type Config struct {
	Client   goredis.UniversalClient
	Channel  string
	SenderID string // empty generates a random id
	// CloseClient closes the underlying client on Dispose; set true only
	// if this backplane exclusively owns the client.
	CloseClient bool
}

// Backplane is a Redis Pub/Sub-backed tiercache.Backplane.
type Backplane struct {
	rdb         goredis.UniversalClient
	channel     string
	senderID    string
	closeClient bool

	sub  *goredis.PubSub
	wg   sync.WaitGroup
	once sync.Once
}

var _ tiercache.Backplane = (*Backplane)(nil)

func New(cfg Config) (*Backplane, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	senderID := cfg.SenderID
	if senderID == "" {
		senderID = randomSenderID()
	}
	return &Backplane{
		rdb:         cfg.Client,
		channel:     cfg.Channel,
		senderID:    senderID,
		closeClient: cfg.CloseClient,
	}, nil
}

func (b *Backplane) SenderID() string { return b.senderID }

// Publish frames msg and publishes it on the configured channel. Delivery
// is whatever Redis Pub/Sub offers: best-effort, not persisted, not
// guaranteed.
func (b *Backplane) Publish(ctx context.Context, msg tiercache.BackplaneMessage) error {
	frame, err := wire.EncodeMessage(b.senderID, opByte(msg.Op), msg.Key, msg.Region)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, frame).Err()
}

// Subscribe starts this backplane's single dispatch goroutine, reading
// from the Redis Pub/Sub channel and delivering decoded messages to
// handler, skipping any message this process itself published. May only
// be called once.
func (b *Backplane) Subscribe(handler tiercache.BackplaneHandler) error {
	b.sub = b.rdb.Subscribe(context.Background(), b.channel)
	ch := b.sub.Channel()
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for m := range ch {
			senderID, op, key, region, err := wire.DecodeMessage([]byte(m.Payload))
			if err != nil {
				continue // corrupt frame from a foreign publisher; drop
			}
			if senderID == b.senderID {
				continue // loopback suppression
			}
			handler(tiercache.BackplaneMessage{
				SenderID: senderID,
				Op:       tiercache.BackplaneOp(op),
				Key:      key,
				Region:   region,
			})
		}
	}()
	return nil
}

// Factory returns a tiercache.BackplaneFactory reading the connection out
// of opts ("client", "close_client"), registerable into a
// tiercache.Registry[V] under a type name like "redis-pubsub". defaultClient
// is used when opts omits "client".
func Factory(defaultClient goredis.UniversalClient) tiercache.BackplaneFactory {
	return func(channel string, deps tiercache.FactoryDeps, opts map[string]any) (tiercache.Backplane, error) {
		client := defaultClient
		if c, ok := opts["client"].(goredis.UniversalClient); ok && c != nil {
			client = c
		}
		closeClient, _ := opts["close_client"].(bool)
		return New(Config{
			Client:      client,
			Channel:     channel,
			CloseClient: closeClient,
		})
	}
}

// Dispose unsubscribes, stops the dispatch goroutine, and closes the
// client only when this backplane owns it. Idempotent.
func (b *Backplane) Dispose() error {
	var err error
	b.once.Do(func() {
		if b.sub != nil {
			err = b.sub.Close()
		}
		b.wg.Wait()
		if b.closeClient {
			if cerr := b.rdb.Close(); cerr != nil && !errors.Is(cerr, goredis.ErrClosed) {
				err = cerr
			}
		}
	})
	return err
}
