package discovery

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/gotag/internal/contract"
)

type recordingLookup struct {
	mu        sync.Mutex
	failFirst int
	lease     time.Duration
	registers int
	cancels   []string
	renewed   chan struct{}
}

func (l *recordingLookup) Register(_ context.Context, reg contract.Registration) (time.Time, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.registers++
	if l.registers <= l.failFirst {
		return time.Time{}, errors.New("lookup unavailable")
	}
	select {
	case l.renewed <- struct{}{}:
	default:
	}
	return time.Now().Add(l.lease), nil
}

func (l *recordingLookup) Cancel(_ context.Context, hostID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cancels = append(l.cancels, hostID)
	return nil
}

func (l *recordingLookup) Query(context.Context, contract.Filter, int) ([]contract.Endpoint, error) {
	return nil, nil
}

func TestBackoffNextDelay(t *testing.T) {
	cfg := BackoffConfig{InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}

	assert.Equal(t, 100*time.Millisecond, cfg.NextDelay(1, nil))
	assert.Equal(t, 200*time.Millisecond, cfg.NextDelay(2, nil))
	assert.Equal(t, 400*time.Millisecond, cfg.NextDelay(3, nil))
	assert.Equal(t, time.Second, cfg.NextDelay(10, nil))

	cfg.Jitter = true
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		d := cfg.NextDelay(3, rng)
		assert.GreaterOrEqual(t, d, 200*time.Millisecond)
		assert.Less(t, d, 600*time.Millisecond)
	}
}

func TestRegistrarRenewsAndCancels(t *testing.T) {
	lookup := &recordingLookup{
		failFirst: 2,
		lease:     2 * time.Second,
		renewed:   make(chan struct{}, 1),
	}
	r := NewRegistrar(RegistrarConfig{
		Lookup:       lookup,
		Registration: bailiffReg("h1", 2*time.Second, nil),
		Backoff:      BackoffConfig{InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	select {
	case <-lookup.renewed:
	case <-time.After(2 * time.Second):
		t.Fatal("registrar never registered")
	}
	assert.Eventually(t, r.Registered, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	lookup.mu.Lock()
	defer lookup.mu.Unlock()
	assert.Equal(t, 3, lookup.registers, "two failures then one success")
	assert.Equal(t, []string{"h1"}, lookup.cancels)
	assert.False(t, r.Registered())
}

func TestRegistrarSkipsCancelWhenNeverRegistered(t *testing.T) {
	lookup := &recordingLookup{failFirst: 1 << 30, renewed: make(chan struct{}, 1)}
	r := NewRegistrar(RegistrarConfig{
		Lookup:       lookup,
		Registration: bailiffReg("h1", time.Second, nil),
		Backoff:      BackoffConfig{InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.NoError(t, r.Run(ctx))

	lookup.mu.Lock()
	defer lookup.mu.Unlock()
	assert.Empty(t, lookup.cancels)
}
