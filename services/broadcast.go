package services

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"rpg-portal/logger"
	"rpg-portal/metrics"

	"github.com/redis/go-redis/v9"
)

type CampaignEventType string

const (
	CampaignCreated      CampaignEventType = "campaign.created"
	CampaignUpdated      CampaignEventType = "campaign.updated"
	CampaignDeleted      CampaignEventType = "campaign.deleted"
	CampaignSeatsChanged CampaignEventType = "campaign.seats"
)

// CampaignEvent is pushed to live subscribers whenever a campaign or its
// seat list changes. Subscribers re-fetch what they need.
type CampaignEvent struct {
	Type       CampaignEventType `json:"type"`
	CampaignID string            `json:"campaign_id"`
	FreeSeats  int               `json:"free_seats"`
	At         time.Time         `json:"at"`
}

// Broadcaster is the live-query side of the store. The cancel func
// returned by Subscribe must be called when the listener goes away; it
// closes the channel.
type Broadcaster interface {
	Publish(ctx context.Context, ev CampaignEvent) error
	Subscribe(ctx context.Context) (<-chan CampaignEvent, func())
	Close() error
}

const subscriberBuffer = 16

// LocalBroadcaster fans events out to in-process subscribers. Slow
// subscribers drop events rather than block publishers.
type LocalBroadcaster struct {
	mu     sync.Mutex
	next   int
	subs   map[int]chan CampaignEvent
	closed bool
}

func NewLocalBroadcaster() *LocalBroadcaster {
	return &LocalBroadcaster{subs: make(map[int]chan CampaignEvent)}
}

func (b *LocalBroadcaster) Publish(_ context.Context, ev CampaignEvent) error {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	return nil
}

func (b *LocalBroadcaster) Subscribe(_ context.Context) (<-chan CampaignEvent, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan CampaignEvent, subscriberBuffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.next
	b.next++
	b.subs[id] = ch
	metrics.LiveSubscribers.Inc()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(ch)
				metrics.LiveSubscribers.Dec()
			}
		})
	}
}

// Subscribers returns the number of open subscriptions.
func (b *LocalBroadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *LocalBroadcaster) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
		metrics.LiveSubscribers.Dec()
	}
	b.closed = true
	return nil
}

// RedisBroadcaster publishes events on a redis channel so every portal
// instance sees seat changes made by the others.
type RedisBroadcaster struct {
	client  *redis.Client
	channel string
}

const campaignChannel = "portal:campaigns"

// NewRedisBroadcaster connects using a redis:// URL.
func NewRedisBroadcaster(ctx context.Context, url string) (*RedisBroadcaster, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &RedisBroadcaster{client: client, channel: campaignChannel}, nil
}

func (b *RedisBroadcaster) Publish(ctx context.Context, ev CampaignEvent) error {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.channel, payload).Err()
}

func (b *RedisBroadcaster) Subscribe(ctx context.Context) (<-chan CampaignEvent, func()) {
	ps := b.client.Subscribe(ctx, b.channel)
	out := make(chan CampaignEvent, subscriberBuffer)
	done := make(chan struct{})
	metrics.LiveSubscribers.Inc()

	go func() {
		defer close(out)
		msgs := ps.Channel()
		for {
			select {
			case <-done:
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev CampaignEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					logger.Warn().Err(err).Msg("⚠️ Dropping malformed campaign event")
					continue
				}
				select {
				case out <- ev:
				default:
				}
			}
		}
	}()

	var once sync.Once
	return out, func() {
		once.Do(func() {
			close(done)
			_ = ps.Close()
			metrics.LiveSubscribers.Dec()
		})
	}
}

func (b *RedisBroadcaster) Close() error {
	return b.client.Close()
}
