package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewScheduler_InvalidSpec(t *testing.T) {
	_, err := newScheduler("not a cron", func() {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse cron")
}

func TestNewScheduler_RegistersEntry(t *testing.T) {
	c, err := newScheduler("0 6 * * *", func() {})
	require.NoError(t, err)
	require.Len(t, c.Entries(), 1)
}

func TestRunScheduler_StopsOnCancel(t *testing.T) {
	c, err := newScheduler("@every 1h", func() {})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runScheduler(ctx, c) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestRunScheduler_FiresJob(t *testing.T) {
	fired := make(chan struct{}, 1)
	c, err := newScheduler("@every 1s", func() {
		select {
		case fired <- struct{}{}:
		default:
		}
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go runScheduler(ctx, c) //nolint:errcheck

	select {
	case <-fired:
	case <-time.After(5 * time.Second):
		t.Fatal("scheduled job never ran")
	}
}
