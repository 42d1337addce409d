package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPublishFanOut(t *testing.T) {
	h := NewHub[int]()
	a := h.Subscribe(4)
	b := h.Subscribe(4)
	assert.Equal(t, 2, h.Len())

	h.Publish(1)
	h.Publish(2)
	assert.Equal(t, 1, <-a)
	assert.Equal(t, 2, <-a)
	assert.Equal(t, 1, <-b)
	assert.Equal(t, 2, <-b)
}

func TestPublishNeverBlocks(t *testing.T) {
	h := NewHub[string]()
	slow := h.Subscribe(1)
	h.Publish("first")
	h.Publish("dropped")
	assert.Equal(t, "first", <-slow)
	select {
	case v := <-slow:
		t.Fatalf("unexpected value %q", v)
	default:
	}
}

func TestUnsubscribeAndClose(t *testing.T) {
	h := NewHub[int]()
	a := h.Subscribe(1)
	b := h.Subscribe(1)

	h.Unsubscribe(a)
	h.Unsubscribe(a)
	_, ok := <-a
	assert.False(t, ok)

	h.Close()
	_, ok = <-b
	assert.False(t, ok)
	h.Unsubscribe(b)
	h.Publish(3)

	late := h.Subscribe(1)
	_, ok = <-late
	assert.False(t, ok)
}
