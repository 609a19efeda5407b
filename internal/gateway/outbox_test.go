package gateway

import (
	"strconv"
	"sync"
	"testing"
	"time"
)

func TestOutbox_FIFOAcrossGrowth(t *testing.T) {
	b := newOutbox(2, 0)

	// Interleave pops so the ring wraps before it grows.
	b.Push(frame{data: []byte("0")})
	b.Pop()
	for i := 1; i <= 20; i++ {
		if !b.Push(frame{data: []byte(strconv.Itoa(i))}) {
			t.Fatalf("Push(%d) failed", i)
		}
	}
	if b.Len() != 20 {
		t.Fatalf("Len() = %d, want 20", b.Len())
	}
	for i := 1; i <= 20; i++ {
		f, ok := b.Pop()
		if !ok || string(f.data) != strconv.Itoa(i) {
			t.Fatalf("Pop() = %q, %v; want %d", f.data, ok, i)
		}
	}
}

func TestOutbox_Limit(t *testing.T) {
	b := newOutbox(1, 3)
	for i := 0; i < 3; i++ {
		if !b.Push(frame{}) {
			t.Fatalf("Push %d failed", i)
		}
	}
	if b.Push(frame{}) {
		t.Error("Push beyond limit should fail")
	}
	if !b.Push(frame{close: true}) {
		t.Error("close frame should ignore the limit")
	}
	if b.Push(frame{}) {
		t.Error("Push after a close frame should fail")
	}
}

func TestOutbox_CloseDrains(t *testing.T) {
	b := newOutbox(4, 0)
	b.Push(frame{data: []byte("a")})
	b.Close()

	if b.Push(frame{}) {
		t.Error("Push after Close should fail")
	}
	if f, ok := b.Pop(); !ok || string(f.data) != "a" {
		t.Errorf("Pop() = %q, %v", f.data, ok)
	}
	if _, ok := b.Pop(); ok {
		t.Error("Pop on closed empty outbox should return false")
	}
}

func TestOutbox_PopBlocksUntilPush(t *testing.T) {
	b := newOutbox(1, 0)
	var wg sync.WaitGroup
	wg.Add(1)
	var got frame
	go func() {
		defer wg.Done()
		got, _ = b.Pop()
	}()

	time.Sleep(10 * time.Millisecond)
	b.Push(frame{data: []byte("x")})
	wg.Wait()
	if string(got.data) != "x" {
		t.Errorf("got %q, want x", got.data)
	}
}
