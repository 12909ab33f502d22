package state

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/dokzlo13/roomd/internal/roomstatus"
)

func TestDrain_FIFO(t *testing.T) {
	s := NewStore()
	a, b, c := RoomChanged("A"), Tick(), RoomChanged("C")
	s.Push(a)
	s.Push(b)
	s.Push(c)

	got := s.Drain()
	want := []Signal{a, b, c}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Drain() = %v, want %v", got, want)
	}
	if n := s.Pending(); n != 0 {
		t.Errorf("Pending() after drain = %d, want 0", n)
	}
	if got := s.Drain(); len(got) != 0 {
		t.Errorf("second Drain() = %v, want empty", got)
	}
}

func TestRooms_KeepOrder(t *testing.T) {
	s := NewStore()
	s.AddRoom("B", "cal-b")
	s.AddRoom("A", "cal-a")
	s.AddRoom("B", "cal-b2")

	if got := s.Rooms(); !reflect.DeepEqual(got, []string{"B", "A"}) {
		t.Errorf("Rooms() = %v", got)
	}
	if got := s.CalendarID("B"); got != "cal-b2" {
		t.Errorf("CalendarID(B) = %q, want cal-b2", got)
	}
	if !s.HasRoom("A") || s.HasRoom("Z") {
		t.Error("HasRoom reported wrong membership")
	}
}

func TestEvents_AreCopied(t *testing.T) {
	s := NewStore()
	events := []roomstatus.RawEvent{{ID: "1"}}
	s.SetEvents("A", events)
	events[0].ID = "mutated"

	got := s.Events("A")
	if got[0].ID != "1" {
		t.Errorf("stored events aliased caller slice: %v", got)
	}
	got[0].ID = "mutated"
	if s.Events("A")[0].ID != "1" {
		t.Error("returned events alias store state")
	}
}

func TestWait_WakesOnPush(t *testing.T) {
	s := NewStore()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan []Signal, 1)
	go func() {
		signals, err := s.Wait(ctx)
		if err != nil {
			t.Errorf("Wait() error = %v", err)
		}
		done <- signals
	}()

	time.Sleep(20 * time.Millisecond)
	s.Update(func(tx *Tx) {
		tx.SetEvents("A", []roomstatus.RawEvent{{ID: "1"}})
		tx.Push(RoomChanged("A"))
	})

	select {
	case got := <-done:
		if !reflect.DeepEqual(got, []Signal{RoomChanged("A")}) {
			t.Errorf("Wait() = %v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Wait() did not wake up")
	}
}

func TestWait_ReturnsQueuedImmediately(t *testing.T) {
	s := NewStore()
	s.Push(Tick())

	got, err := s.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if len(got) != 1 || got[0].Reason != ReasonTick {
		t.Errorf("Wait() = %v", got)
	}
}

func TestWait_Cancelled(t *testing.T) {
	s := NewStore()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, err := s.Wait(ctx)
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Wait() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Wait() did not return after cancel")
	}
}

func TestUpdate_ReleasesLockOnPanic(t *testing.T) {
	s := NewStore()
	func() {
		defer func() { _ = recover() }()
		s.Update(func(tx *Tx) {
			tx.Push(Tick())
			panic("boom")
		})
	}()

	locked := make(chan struct{})
	go func() {
		s.Lock()
		s.Unlock()
		close(locked)
	}()
	select {
	case <-locked:
	case <-time.After(time.Second):
		t.Fatal("store lock still held after panic in Update")
	}
	if s.Pending() != 1 {
		t.Errorf("Pending() = %d, want 1", s.Pending())
	}
}

func TestRevision_BumpsOnSetEvents(t *testing.T) {
	s := NewStore()
	s.AddRoom("A", "cal-a")
	if r := s.Revision("A"); r != 0 {
		t.Fatalf("initial Revision() = %d, want 0", r)
	}

	s.SetEvents("A", nil)
	s.Update(func(tx *Tx) {
		tx.SetEvents("A", []roomstatus.RawEvent{{ID: "ev1"}})
		if r := tx.Revision("A"); r != 2 {
			t.Errorf("tx.Revision() = %d, want 2", r)
		}
	})
	if r := s.Revision("B"); r != 0 {
		t.Errorf("Revision() of other room = %d, want 0", r)
	}
}
