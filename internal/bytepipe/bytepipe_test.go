package bytepipe

import (
	"bytes"
	"sync"
	"testing"
	"time"
)

func TestNewRejectsBadCapacity(t *testing.T) {
	if _, err := New(0); err != ErrInvalidArg {
		t.Fatalf("expected ErrInvalidArg, got %v", err)
	}
	if _, err := New(-1); err != ErrInvalidArg {
		t.Fatalf("expected ErrInvalidArg, got %v", err)
	}
}

func TestWriteReadRoundTrip(t *testing.T) {
	p, err := New(16)
	if err != nil {
		t.Fatal(err)
	}
	n, err := p.Write([]byte("hello"))
	if err != nil || n != 5 {
		t.Fatalf("write: n=%d err=%v", n, err)
	}
	if p.Available() != 5 || p.Free() != 11 {
		t.Fatalf("available=%d free=%d", p.Available(), p.Free())
	}
	out := make([]byte, 5)
	n, err = p.Read(out)
	if err != nil || n != 5 || string(out) != "hello" {
		t.Fatalf("read: n=%d err=%v out=%q", n, err, out)
	}
	if !p.IsEmpty() {
		t.Fatal("expected empty pipe")
	}
}

func TestWriteTruncatesAtCapacity(t *testing.T) {
	p, _ := New(4)
	n, err := p.Write([]byte("abcdef"))
	if err != nil {
		t.Fatal(err)
	}
	if n != 4 {
		t.Fatalf("expected short write of 4, got %d", n)
	}
	if p.Free() != 0 {
		t.Fatalf("expected full pipe, free=%d", p.Free())
	}
}

func TestRingWraparound(t *testing.T) {
	p, _ := New(4)
	p.Write([]byte("ab"))
	out := make([]byte, 1)
	p.Read(out) // drains 'a', head now at 1
	p.Write([]byte("cde"))
	// buffer now logically holds "bcde" (4 bytes) wrapped across the ring.
	all := make([]byte, 4)
	n, _ := p.Read(all)
	if n != 4 || string(all) != "bcde" {
		t.Fatalf("wraparound mismatch: n=%d all=%q", n, all)
	}
}

func TestSingleByteBoundary(t *testing.T) {
	p, _ := New(1)
	n, _ := p.Write([]byte{0x42})
	if n != 1 {
		t.Fatalf("expected 1, got %d", n)
	}
	n2, _ := p.Write([]byte{0x43})
	if n2 != 0 {
		t.Fatalf("expected 0 (full), got %d", n2)
	}
	out := make([]byte, 1)
	n3, _ := p.Read(out)
	if n3 != 1 || out[0] != 0x42 {
		t.Fatalf("expected 0x42, got %v n=%d", out, n3)
	}
}

func TestReadTimedDeadlineNoProgress(t *testing.T) {
	p, _ := New(8)
	start := time.Now()
	out := make([]byte, 4)
	n, err := p.ReadTimed(out, start.Add(30*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("expected 0, got %d", n)
	}
	if time.Since(start) < 25*time.Millisecond {
		t.Fatalf("returned too early: %v", time.Since(start))
	}
}

func TestWriteTimedWakesOnRead(t *testing.T) {
	p, _ := New(2)
	p.Write([]byte("xy")) // fill it

	var wg sync.WaitGroup
	wg.Add(1)
	var n int
	go func() {
		defer wg.Done()
		n, _ = p.WriteTimed([]byte("z"), time.Now().Add(2*time.Second))
	}()

	time.Sleep(20 * time.Millisecond)
	out := make([]byte, 1)
	p.Read(out) // frees one byte, should wake the writer

	wg.Wait()
	if n != 1 {
		t.Fatalf("expected writer to place 1 byte, got %d", n)
	}
}

func TestReadTimedWakesOnWrite(t *testing.T) {
	p, _ := New(8)

	var wg sync.WaitGroup
	wg.Add(1)
	var got []byte
	go func() {
		defer wg.Done()
		buf := make([]byte, 8)
		n, _ := p.ReadTimed(buf, time.Now().Add(2*time.Second))
		got = buf[:n]
	}()

	time.Sleep(20 * time.Millisecond)
	p.Write([]byte("hi"))

	wg.Wait()
	if !bytes.Equal(got, []byte("hi")) {
		t.Fatalf("expected 'hi', got %q", got)
	}
}

func TestDestroyUnblocksWaiters(t *testing.T) {
	empty, _ := New(4)
	full, _ := New(4)
	full.Write([]byte{1, 2, 3, 4})

	var wg sync.WaitGroup
	wg.Add(2)
	var readErr, writeErr error

	go func() {
		defer wg.Done()
		buf := make([]byte, 4)
		_, readErr = empty.ReadTimed(buf, time.Now().Add(5*time.Second))
	}()
	go func() {
		defer wg.Done()
		_, writeErr = full.WriteTimed([]byte{5}, time.Now().Add(5*time.Second))
	}()

	time.Sleep(20 * time.Millisecond)
	empty.Destroy()
	full.Destroy()
	wg.Wait()

	if readErr != ErrClosed {
		t.Fatalf("expected ErrClosed for blocked reader, got %v", readErr)
	}
	if writeErr != ErrClosed {
		t.Fatalf("expected ErrClosed for blocked writer, got %v", writeErr)
	}

	if _, err := full.Write([]byte{1}); err != ErrClosed {
		t.Fatalf("expected ErrClosed after destroy, got %v", err)
	}
	if _, err := empty.Read(make([]byte, 1)); err != ErrClosed {
		t.Fatalf("expected ErrClosed after destroy with empty buffer, got %v", err)
	}
}

func TestNilArgumentsRejected(t *testing.T) {
	p, _ := New(4)
	if _, err := p.Write(nil); err != ErrInvalidArg {
		t.Fatalf("expected ErrInvalidArg, got %v", err)
	}
	if _, err := p.Read(nil); err != ErrInvalidArg {
		t.Fatalf("expected ErrInvalidArg, got %v", err)
	}
}
