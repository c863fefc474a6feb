package hub

import (
	"testing"
	"time"
)

type fakeMember struct {
	id   string
	full bool
	got  [][]byte
}

func (f *fakeMember) ID() string { return f.id }

func (f *fakeMember) Deliver(data []byte) bool {
	if f.full {
		return false
	}
	f.got = append(f.got, data)
	return true
}

func TestJoinIsIdempotent(t *testing.T) {
	r := NewRegistry(time.Minute)
	a := &fakeMember{id: "a"}
	r.Join("o1", a)
	r.Join("o1", a)
	if n := len(r.Members("o1")); n != 1 {
		t.Fatalf("members = %d, want 1", n)
	}
}

func TestLeaveDeletesEmptyGroup(t *testing.T) {
	r := NewRegistry(time.Minute)
	a, b := &fakeMember{id: "a"}, &fakeMember{id: "b"}
	r.Join("o1", a)
	r.Join("o1", b)
	r.Leave("o1", "a")
	if got := r.Rooms(); len(got) != 1 {
		t.Fatalf("rooms = %v", got)
	}
	r.Leave("o1", "b")
	if got := r.Rooms(); len(got) != 0 {
		t.Fatalf("empty group should be gone, rooms = %v", got)
	}
	// leaving again, or a group never joined, is a no-op
	r.Leave("o1", "b")
	r.Leave("nope", "zz")
}

func TestLeaveAll(t *testing.T) {
	r := NewRegistry(time.Minute)
	a, b := &fakeMember{id: "a"}, &fakeMember{id: "b"}
	r.Join("o1", a)
	r.Join("o2", a)
	r.Join("o2", b)
	r.LeaveAll("a")
	if got := r.Rooms(); len(got) != 1 || got[0] != "o2" {
		t.Fatalf("rooms = %v", got)
	}
	if m := r.Members("o2"); len(m) != 1 || m[0].ID() != "b" {
		t.Fatalf("o2 members = %v", m)
	}
}

func TestCloseAndSweep(t *testing.T) {
	r := NewRegistry(time.Minute)
	a := &fakeMember{id: "a"}
	r.Join("o1", a)
	now := time.Unix(1000, 0)

	members := r.Close("o1", now)
	if len(members) != 1 || !r.IsClosed("o1") {
		t.Fatalf("close returned %d members, closed=%v", len(members), r.IsClosed("o1"))
	}
	if len(r.Rooms()) != 0 {
		t.Fatalf("closed group should be removed")
	}
	if n := r.Sweep(now.Add(30 * time.Second)); n != 0 {
		t.Fatalf("swept %d before the idle window", n)
	}
	if n := r.Sweep(now.Add(2 * time.Minute)); n != 1 {
		t.Fatalf("swept %d, want 1", n)
	}
	if r.IsClosed("o1") {
		t.Fatal("closure mark should be forgotten")
	}
}
