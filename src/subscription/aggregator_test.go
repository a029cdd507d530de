package subscription

import (
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeControl records every subscribe/unsubscribe batch it receives.
type fakeControl struct {
	mu           sync.Mutex
	subscribed   [][]string
	unsubscribed [][]string
}

func (f *fakeControl) Subscribe(symbols []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribed = append(f.subscribed, append([]string(nil), symbols...))
	return nil
}

func (f *fakeControl) Unsubscribe(symbols []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribed = append(f.unsubscribed, append([]string(nil), symbols...))
	return nil
}

func (f *fakeControl) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subscribed) + len(f.unsubscribed)
}

// -----------------------------------------------------------------------------

func TestReconcileIssuesMinimalDelta(t *testing.T) {
	reg := NewRegistry()
	ctl := &fakeControl{}
	agg := NewAggregator(reg, ctl, 100, nil)

	client := uuid.New()
	reg.Add(client, []string{"AAPL"})

	require.NoError(t, agg.Reconcile())
	require.Len(t, ctl.subscribed, 1)
	assert.Equal(t, []string{"AAPL"}, ctl.subscribed[0])
	assert.Empty(t, ctl.unsubscribed)
}

func TestReconcileIsIdempotent(t *testing.T) {
	reg := NewRegistry()
	ctl := &fakeControl{}
	agg := NewAggregator(reg, ctl, 100, nil)

	reg.Add(uuid.New(), []string{"AAPL", "MSFT"})
	require.NoError(t, agg.Reconcile())
	before := ctl.calls()

	require.NoError(t, agg.Reconcile())
	assert.Equal(t, before, ctl.calls(), "second reconcile with no state change must issue no calls")
}

func TestSharedSymbolSurvivesFirstDisconnect(t *testing.T) {
	reg := NewRegistry()
	ctl := &fakeControl{}
	agg := NewAggregator(reg, ctl, 100, nil)

	c1, c2 := uuid.New(), uuid.New()
	reg.Add(c1, []string{"MSFT"})
	reg.Add(c2, []string{"MSFT"})
	require.NoError(t, agg.Reconcile())

	// Client 1 disconnects: MSFT must stay subscribed for client 2
	reg.RemoveClient(c1)
	require.NoError(t, agg.Reconcile())
	assert.Empty(t, ctl.unsubscribed)
	assert.Equal(t, []string{"MSFT"}, agg.Current())

	// Client 2 disconnects: now MSFT is released
	reg.RemoveClient(c2)
	require.NoError(t, agg.Reconcile())
	require.Len(t, ctl.unsubscribed, 1)
	assert.Equal(t, []string{"MSFT"}, ctl.unsubscribed[0])
	assert.Empty(t, agg.Current())
}

func TestManagedSymbolsSurviveClientDisconnects(t *testing.T) {
	reg := NewRegistry()
	ctl := &fakeControl{}
	agg := NewAggregator(reg, ctl, 100, nil)

	agg.SetManaged([]string{"SPY", "QQQ"})
	require.NoError(t, agg.Reconcile())

	client := uuid.New()
	reg.Add(client, []string{"SPY", "NVDA"})
	require.NoError(t, agg.Reconcile())

	reg.RemoveClient(client)
	require.NoError(t, agg.Reconcile())

	// NVDA was client-owned and goes away; SPY is managed and stays
	assert.Equal(t, []string{"QQQ", "SPY"}, agg.Current())
}

func TestDisconnectRemovesAllBookkeeping(t *testing.T) {
	reg := NewRegistry()
	client := uuid.New()
	reg.Add(client, []string{"AAPL", "MSFT", "NVDA"})

	reg.RemoveClient(client)

	assert.Empty(t, reg.ClientSymbols(client))
	assert.Zero(t, reg.SymbolCount())
	assert.Zero(t, reg.ClientCount())
	assert.Empty(t, reg.Subscribers("AAPL"))
}

func TestReconcileChunksLargeBatches(t *testing.T) {
	reg := NewRegistry()
	ctl := &fakeControl{}
	agg := NewAggregator(reg, ctl, 100, nil)

	var syms []string
	for i := 0; i < 250; i++ {
		syms = append(syms, fmt.Sprintf("SYM%03d", i))
	}
	reg.Add(uuid.New(), syms)

	require.NoError(t, agg.Reconcile())
	require.Len(t, ctl.subscribed, 3)
	assert.Len(t, ctl.subscribed[0], 100)
	assert.Len(t, ctl.subscribed[1], 100)
	assert.Len(t, ctl.subscribed[2], 50)
}

// flakyControl fails every subscribe call after the first acknowledged chunk
// until healed.
type flakyControl struct {
	fakeControl
	failing bool
}

func (f *flakyControl) Subscribe(symbols []string) error {
	f.mu.Lock()
	shouldFail := f.failing && len(f.subscribed) >= 1
	f.mu.Unlock()
	if shouldFail {
		return fmt.Errorf("send failed")
	}
	return f.fakeControl.Subscribe(symbols)
}

func TestReconcileDoesNotResendChunksAcknowledgedBeforeFailure(t *testing.T) {
	reg := NewRegistry()
	ctl := &flakyControl{failing: true}
	agg := NewAggregator(reg, ctl, 2, nil)

	reg.Add(uuid.New(), []string{"AAPL", "AMZN", "MSFT", "NVDA"})

	// First chunk lands, second fails mid-batch
	require.Error(t, agg.Reconcile())
	require.Len(t, ctl.subscribed, 1)
	assert.Equal(t, []string{"AAPL", "AMZN"}, ctl.subscribed[0])
	assert.Equal(t, []string{"AAPL", "AMZN"}, agg.Current())

	// Once sends work again, only the unacknowledged symbols go out
	ctl.failing = false
	require.NoError(t, agg.Reconcile())
	require.Len(t, ctl.subscribed, 2)
	assert.Equal(t, []string{"MSFT", "NVDA"}, ctl.subscribed[1])
	assert.Equal(t, []string{"AAPL", "AMZN", "MSFT", "NVDA"}, agg.Current())
}

func TestChunk(t *testing.T) {
	assert.Nil(t, Chunk(nil, 10))
	assert.Equal(t, [][]string{{"A"}}, Chunk([]string{"A"}, 10))
	assert.Equal(t, [][]string{{"A", "B"}, {"C"}}, Chunk([]string{"A", "B", "C"}, 2))
}
