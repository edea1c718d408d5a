package syncx

import (
	"sync"
	"testing"
	"time"
)

func TestLatestLoadPublish(t *testing.T) {
	l := NewLatest(42)

	if v, ver := l.Load(); v != 42 || ver != 0 {
		t.Errorf("Load() = (%d, %d), want (42, 0)", v, ver)
	}

	if ver := l.Publish(100); ver != 1 {
		t.Errorf("Publish() version = %d, want 1", ver)
	}
	if got := l.Get(); got != 100 {
		t.Errorf("Get() after Publish = %d, want 100", got)
	}
}

func TestLatestWatchCoalesces(t *testing.T) {
	l := NewLatest("a")
	ch, stop := l.Watch()
	defer stop()

	l.Publish("b")
	l.Publish("c")

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("watcher not signalled")
	}
	if got := l.Get(); got != "c" {
		t.Errorf("Get() = %q, want %q", got, "c")
	}
	select {
	case <-ch:
		t.Error("two publishes should coalesce into one signal")
	default:
	}
}

func TestLatestUnwatch(t *testing.T) {
	l := NewLatest(0)
	ch, stop := l.Watch()
	if n := l.Watchers(); n != 1 {
		t.Errorf("Watchers() = %d, want 1", n)
	}

	stop()
	stop()
	if n := l.Watchers(); n != 0 {
		t.Errorf("Watchers() after stop = %d, want 0", n)
	}
	if _, ok := <-ch; ok {
		t.Error("channel should be closed after stop")
	}
	l.Publish(1)
}

func TestLatestConcurrentAccess(t *testing.T) {
	l := NewLatest(0)
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			l.Publish(n)
		}(i)
		go func() {
			defer wg.Done()
			ch, stop := l.Watch()
			_ = l.Get()
			select {
			case <-ch:
			default:
			}
			stop()
		}()
	}
	wg.Wait()

	if _, ver := l.Load(); ver != 50 {
		t.Errorf("version = %d, want 50", ver)
	}
}
