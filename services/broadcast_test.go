package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalBroadcasterFanOut(t *testing.T) {
	b := NewLocalBroadcaster()
	defer b.Close()

	first, cancelFirst := b.Subscribe(bg)
	second, cancelSecond := b.Subscribe(bg)
	defer cancelSecond()
	assert.Equal(t, 2, b.Subscribers())

	require.NoError(t, b.Publish(bg, CampaignEvent{Type: CampaignUpdated, CampaignID: "c1"}))
	for _, ch := range []<-chan CampaignEvent{first, second} {
		select {
		case ev := <-ch:
			assert.Equal(t, "c1", ev.CampaignID)
			assert.False(t, ev.At.IsZero())
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}

	cancelFirst()
	cancelFirst()
	_, open := <-first
	assert.False(t, open, "cancel closes the channel")
	assert.Equal(t, 1, b.Subscribers())
}

func TestLocalBroadcasterNeverBlocksPublisher(t *testing.T) {
	b := NewLocalBroadcaster()
	defer b.Close()
	_, cancel := b.Subscribe(bg)
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*4; i++ {
			_ = b.Publish(bg, CampaignEvent{Type: CampaignSeatsChanged, CampaignID: "busy"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}

func TestLocalBroadcasterClose(t *testing.T) {
	b := NewLocalBroadcaster()
	ch, cancel := b.Subscribe(bg)
	require.NoError(t, b.Close())

	_, open := <-ch
	assert.False(t, open)
	cancel()

	late, _ := b.Subscribe(bg)
	_, open = <-late
	assert.False(t, open, "subscribing after close yields a closed channel")
	assert.Zero(t, b.Subscribers())
}
