package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const buyerAddr = "0x00000000000000000000000000000000000000b1"

func receive(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case ev, ok := <-sub.C():
		require.True(t, ok, "subscription closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func TestHubDeliversInOrder(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()

	sub, err := hub.Subscribe(context.Background())
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		hub.Publish(Event{Kind: KindTransfer, Args: map[string]interface{}{"value": i}})
	}
	for i := 0; i < 50; i++ {
		ev := receive(t, sub)
		assert.Equal(t, i, ev.Args["value"])
	}
}

func TestHubNoReplay(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()

	hub.Publish(Event{Kind: KindUpload, Args: map[string]interface{}{"n": 1}})

	sub, err := hub.Subscribe(context.Background())
	require.NoError(t, err)

	hub.Publish(Event{Kind: KindUpload, Args: map[string]interface{}{"n": 2}})
	ev := receive(t, sub)
	assert.Equal(t, 2, ev.Args["n"])
}

func TestHubTranslatesAddresses(t *testing.T) {
	roles := NewRoleBook(map[string]string{"buyer": "0x00000000000000000000000000000000000000B1"})
	hub := NewHub(roles)
	defer hub.Close()

	sub, err := hub.Subscribe(context.Background())
	require.NoError(t, err)

	args := map[string]interface{}{
		"from":  buyerAddr,
		"to":    "0x00000000000000000000000000000000000000ff",
		"value": int64(5),
	}
	hub.Publish(Event{Kind: KindTransfer, Args: args, Block: AtBlock(12)})

	ev := receive(t, sub)
	assert.Equal(t, "buyer", ev.Args["from"])
	assert.Equal(t, "0x00000000000000000000000000000000000000ff", ev.Args["to"])
	assert.Equal(t, int64(5), ev.Args["value"])
	require.NotNil(t, ev.Block)
	assert.Equal(t, uint64(12), *ev.Block)

	// Publisher's map is left alone.
	assert.Equal(t, buyerAddr, args["from"])
}

func TestHubSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()

	slow, err := hub.Subscribe(context.Background())
	require.NoError(t, err)
	fast, err := hub.Subscribe(context.Background())
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			hub.Publish(Event{Kind: KindTransfer, Args: map[string]interface{}{"i": i}})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on an undrained subscriber")
	}

	for i := 0; i < 1000; i++ {
		assert.Equal(t, i, receive(t, fast).Args["i"])
	}
	assert.Equal(t, 0, receive(t, slow).Args["i"])
}

func TestHubRemovesCancelledSubscriber(t *testing.T) {
	var mu sync.Mutex
	var counts []int
	hub := NewHub(nil, WithSubscriberGauge(func(n int) {
		mu.Lock()
		counts = append(counts, n)
		mu.Unlock()
	}))
	defer hub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	sub, err := hub.Subscribe(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, hub.Subscribers())

	cancel()
	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("subscription not removed after cancel")
	}
	assert.Equal(t, 0, hub.Subscribers())

	// Output channel is closed once the pump exits.
	assert.Eventually(t, func() bool {
		select {
		case _, ok := <-sub.C():
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 0}, counts)
}

func TestHubQueueLimitDropsSubscriber(t *testing.T) {
	hub := NewHub(nil, WithQueueLimit(3))
	defer hub.Close()

	sub, err := hub.Subscribe(context.Background())
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		hub.Publish(Event{Kind: KindTransfer})
	}

	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("over-limit subscriber kept")
	}
	assert.Equal(t, 0, hub.Subscribers())
}

func TestHubClose(t *testing.T) {
	hub := NewHub(nil)
	sub, err := hub.Subscribe(context.Background())
	require.NoError(t, err)

	hub.Close()
	hub.Close()

	<-sub.Done()
	_, err = hub.Subscribe(context.Background())
	assert.ErrorIs(t, err, ErrHubClosed)

	// Publishing after close is a no-op.
	hub.Publish(Event{Kind: KindTransfer})
}

func TestHubConcurrentSubscribePublish(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithCancel(context.Background())
			sub, err := hub.Subscribe(ctx)
			if err != nil {
				cancel()
				return
			}
			cancel()
			<-sub.Done()
		}()
		go func(i int) {
			defer wg.Done()
			hub.Publish(Event{Kind: KindTransfer, Args: map[string]interface{}{"i": i}})
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 0, hub.Subscribers())
}

func TestRoleBook(t *testing.T) {
	parsed, err := ParseRoleList("owner=0xAA, seller = 0xbb ,")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"owner": "0xAA", "seller": "0xbb"}, parsed)

	_, err = ParseRoleList("owner")
	assert.Error(t, err)

	book := NewRoleBook(parsed)
	name, ok := book.Lookup("0xaa")
	assert.True(t, ok)
	assert.Equal(t, "owner", name)

	extended := book.With(map[string]string{"verifier": "0xCC"})
	assert.Equal(t, 2, book.Len())
	assert.Equal(t, 3, extended.Len())

	_, ok = book.Lookup("0xcc")
	assert.False(t, ok)

	var nilBook *RoleBook
	out := nilBook.Translate(map[string]interface{}{"from": "0xaa"})
	assert.Equal(t, "0xaa", out["from"])
}
