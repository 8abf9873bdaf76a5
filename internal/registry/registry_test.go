package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndLookup(t *testing.T) {
	r := New()
	r.Register("llm", "client")

	service, ok := r.Lookup("llm")
	require.True(t, ok)
	assert.Equal(t, "client", service)

	typed, ok := Get[string](r, "llm")
	require.True(t, ok)
	assert.Equal(t, "client", typed)

	_, ok = Get[int](r, "llm")
	assert.False(t, ok, "wrong type should not resolve")
}

func TestWaitReadyImmediate(t *testing.T) {
	r := New()
	r.Register("audit", struct{}{})
	err := r.WaitReady(context.Background(), "audit", 10*time.Millisecond)
	assert.NoError(t, err)
}

func TestWaitReadyWakesOnRegister(t *testing.T) {
	r := New()
	done := make(chan error, 1)
	go func() {
		done <- r.WaitReady(context.Background(), "memory", 2*time.Second)
	}()
	time.Sleep(20 * time.Millisecond)
	r.Register("memory", struct{}{})

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("WaitReady did not wake on registration")
	}
}

func TestWaitReadyTimesOut(t *testing.T) {
	r := New()
	err := r.WaitReady(context.Background(), "missing", 20*time.Millisecond)
	assert.Error(t, err)
}
