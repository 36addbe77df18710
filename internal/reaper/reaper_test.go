package reaper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStore is an in-memory Store that tracks invalidations and retirals.
type fakeStore struct {
	expired     []string
	invalidated []string
	deactivated []string
	findErr     error
	deactErr    map[string]error
}

func (f *fakeStore) FindExpired(_ context.Context, _ time.Time, limit int) ([]string, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	n := limit
	if n > len(f.expired) {
		n = len(f.expired)
	}
	batch := f.expired[:n]
	f.expired = f.expired[n:]
	return batch, nil
}

func (f *fakeStore) Deactivate(_ context.Context, code string) (bool, error) {
	if err, ok := f.deactErr[code]; ok {
		return false, err
	}
	f.deactivated = append(f.deactivated, code)
	return true, nil
}

func (f *fakeStore) Invalidate(_ context.Context, code string) error {
	f.invalidated = append(f.invalidated, code)
	return nil
}

func TestReaper_SweepDrainsAllBatches(t *testing.T) {
	store := &fakeStore{expired: []string{"a", "b", "c", "d", "e"}}
	r := New(store, time.Minute, 2, nil, nil)

	reaped := r.Sweep(context.Background())

	assert.Equal(t, 5, reaped)
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, store.deactivated)
}

func TestReaper_InvalidatesBeforeDeactivating(t *testing.T) {
	store := &fakeStore{expired: []string{"x"}}
	r := New(store, time.Minute, 10, nil, nil)

	r.Sweep(context.Background())

	require.Equal(t, []string{"x"}, store.invalidated)
	require.Equal(t, []string{"x"}, store.deactivated)
}

func TestReaper_NothingExpired(t *testing.T) {
	store := &fakeStore{}
	r := New(store, time.Minute, 10, nil, nil)

	assert.Zero(t, r.Sweep(context.Background()))
	assert.Empty(t, store.deactivated)
}

func TestReaper_ScanErrorStopsSweep(t *testing.T) {
	store := &fakeStore{findErr: errors.New("db down")}
	r := New(store, time.Minute, 10, nil, nil)

	assert.Zero(t, r.Sweep(context.Background()))
}

func TestReaper_DeactivateErrorSkipsRow(t *testing.T) {
	store := &fakeStore{
		expired:  []string{"good", "bad"},
		deactErr: map[string]error{"bad": errors.New("conflict")},
	}
	r := New(store, time.Minute, 10, nil, nil)

	reaped := r.Sweep(context.Background())

	assert.Equal(t, 1, reaped)
	assert.Equal(t, []string{"good"}, store.deactivated)
}

func TestReaper_RunStopsOnCancel(t *testing.T) {
	store := &fakeStore{}
	r := New(store, 10*time.Millisecond, 10, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := r.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
