package exchange

import (
	"testing"
	"time"
)

func waitForCondition(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestPublishSubscribeDeliversInOrder(t *testing.T) {
	ex := New(nil)
	ex.Start()
	defer func() { ex.Stop(); ex.Join() }()

	var received []int
	done := make(chan struct{})
	ex.Subscribe(HeldFilesChanged, func(payload interface{}) {
		received = append(received, payload.(int))
		if len(received) == 3 {
			close(done)
		}
	})

	ex.Publish(HeldFilesChanged, 1)
	ex.Publish(HeldFilesChanged, 2)
	ex.Publish(HeldFilesChanged, 3)

	<-done
	for i, v := range received {
		if v != i+1 {
			t.Fatalf("expected in-order delivery, got %v", received)
		}
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	ex := New(nil)
	ex.Start()
	defer func() { ex.Stop(); ex.Join() }()

	var otherCount int
	ex.Subscribe(StopCalled, func(interface{}) { otherCount++ })

	var count int
	id := ex.Subscribe(HeldFilesChanged, func(interface{}) { count++ })

	ex.Publish(HeldFilesChanged, nil)
	waitForCondition(t, time.Second, func() bool { return count == 1 })

	ex.Unsubscribe(id)
	ex.Publish(HeldFilesChanged, nil)
	ex.Publish(StopCalled, nil)
	waitForCondition(t, time.Second, func() bool { return otherCount == 1 })

	if count != 1 {
		t.Fatalf("expected unsubscribe to stop delivery, got count=%d", count)
	}
}

func TestHandlerPanicDoesNotKillDispatcher(t *testing.T) {
	ex := New(nil)
	ex.Start()
	defer func() { ex.Stop(); ex.Join() }()

	ex.Subscribe(StopCalled, func(interface{}) { panic("boom") })

	var recovered bool
	ex.Subscribe(HeldFilesChanged, func(interface{}) { recovered = true })

	ex.Publish(StopCalled, nil)
	ex.Publish(HeldFilesChanged, nil)

	waitForCondition(t, time.Second, func() bool { return recovered })
}

func TestNewSubscriberDoesNotReceivePastMessages(t *testing.T) {
	ex := New(nil)
	ex.Start()
	defer func() { ex.Stop(); ex.Join() }()

	ex.Publish(HeldFilesChanged, "before")

	var received []interface{}
	done := make(chan struct{})
	ex.Subscribe(HeldFilesChanged, func(payload interface{}) {
		received = append(received, payload)
		close(done)
	})

	ex.Publish(HeldFilesChanged, "after")
	<-done

	if len(received) != 1 || received[0] != "after" {
		t.Fatalf("expected only the post-subscription message, got %v", received)
	}
}
