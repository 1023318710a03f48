package broadcast

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHub_SubscribeAndLeave(t *testing.T) {
	hub := NewHub(2)

	_, leaveA := hub.Subscribe("evt-1")
	subB, leaveB := hub.Subscribe("evt-1")
	assert.Equal(t, 2, hub.Subscribers("evt-1"))

	leaveA()
	leaveA()
	assert.Equal(t, 1, hub.Subscribers("evt-1"))

	assert.Equal(t, 1, hub.Dispatch("evt-1", []byte("x")))
	assert.Equal(t, []byte("x"), <-subB.C)

	leaveB()
	assert.Equal(t, 0, hub.Subscribers("evt-1"))

	_, open := <-subB.C
	assert.False(t, open)
}

func TestHub_DropsForSlowSubscriber(t *testing.T) {
	hub := NewHub(1)
	sub, leave := hub.Subscribe("evt-1")
	defer leave()

	assert.Equal(t, 1, hub.Dispatch("evt-1", []byte("a")))
	assert.Equal(t, 0, hub.Dispatch("evt-1", []byte("b")))
	assert.Equal(t, int64(1), sub.Dropped())
	assert.Equal(t, []byte("a"), <-sub.C)
}

func TestHub_DispatchWithoutSubscribers(t *testing.T) {
	hub := NewHub(0)
	assert.Equal(t, 0, hub.Dispatch("nobody", []byte("x")))
}

func TestHub_CloseDisconnectsEveryone(t *testing.T) {
	hub := NewHub(1)
	a, _ := hub.Subscribe("evt-1")
	b, leaveB := hub.Subscribe("evt-2")

	hub.Close()
	leaveB()

	_, openA := <-a.C
	_, openB := <-b.C
	assert.False(t, openA)
	assert.False(t, openB)
	assert.Equal(t, 0, hub.Subscribers("evt-1"))
}

func TestHub_ConcurrentDispatchAndLeave(t *testing.T) {
	hub := NewHub(8)
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub, leave := hub.Subscribe("evt-1")
			for j := 0; j < 10; j++ {
				hub.Dispatch("evt-1", []byte("x"))
			}
			leave()
			for range sub.C {
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, hub.Subscribers("evt-1"))
}
