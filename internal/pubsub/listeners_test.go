package pubsub

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestListeners_NotifyInOrder(t *testing.T) {
	var l Listeners[int]
	var got []string

	l.Add(func(v int) { got = append(got, "first") })
	l.Add(func(v int) { got = append(got, "second") })
	l.Notify(1)

	assert.Equal(t, []string{"first", "second"}, got)
}

func TestListeners_Remove(t *testing.T) {
	var l Listeners[string]
	calls := 0

	remove := l.Add(func(string) { calls++ })
	l.Notify("a")
	remove()
	remove() // idempotent
	l.Notify("b")

	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, l.Len())
}

func TestListeners_RemoveDuringNotify(t *testing.T) {
	var l Listeners[int]
	calls := 0

	var remove func()
	remove = l.Add(func(int) {
		calls++
		remove()
	})
	l.Notify(1)
	l.Notify(2)

	assert.Equal(t, 1, calls)
}
