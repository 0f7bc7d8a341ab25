package session

import "testing"

func TestCreateValidatesName(t *testing.T) {
	r := NewRegistry()

	if _, err := r.Create("bad name!", ""); err != ErrNameInvalid {
		t.Fatalf("want ErrNameInvalid, got %v", err)
	}

	if _, err := r.Create("ok-name_1", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := r.Create("ok-name_1", ""); err != ErrNameTaken {
		t.Fatalf("want ErrNameTaken, got %v", err)
	}
}

func TestDefaultSessionPerProfile(t *testing.T) {
	r := NewRegistry()

	s1, err := r.GetOrCreateDefault("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s2, err := r.GetOrCreateDefault("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s1.ID != s2.ID {
		t.Fatalf("expected same default session for the same profile, got %s and %s", s1.ID, s2.ID)
	}

	s3, err := r.GetOrCreateDefault("/some/profile")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s3.ID == s1.ID {
		t.Fatalf("expected independent default session for distinct profile")
	}
}

func TestStateInvariants(t *testing.T) {
	r := NewRegistry()
	s, _ := r.Create("sess1", "")

	if err := r.SetExtensionConnection(s.ID, fakeExtHandle{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.State != Active {
		t.Fatalf("want Active, got %s", s.State)
	}
	if s.ExtensionConnection() == nil {
		t.Fatalf("expected non-nil extension connection")
	}

	if err := r.SetExtensionConnection(s.ID, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.State != Disconnected {
		t.Fatalf("want Disconnected, got %s", s.State)
	}
	if s.ExtensionConnection() != nil {
		t.Fatalf("expected nil extension connection after disconnect")
	}
}

func TestAssignNextAwaitingIsFIFO(t *testing.T) {
	r := NewRegistry()
	s1, _ := r.Create("s1", "")
	s2, _ := r.Create("s2", "")

	r.UpdateState(s2.ID, AwaitingExtension)
	r.UpdateState(s1.ID, AwaitingExtension)
	// The states were updated in reverse order; AssignNextAwaiting must
	// still return the earliest CreatedAt, which is s1 since it was
	// created first.
	got := r.AssignNextAwaiting()
	if got == nil || got.ID != s1.ID {
		t.Fatalf("want s1 (earliest CreatedAt), got %+v", got)
	}
}

func TestDeleteClosesExtensionHandle(t *testing.T) {
	r := NewRegistry()
	s, _ := r.Create("sess1", "")
	h := &closeTrackingHandle{}
	r.SetExtensionConnection(s.ID, h)

	if !r.Delete(s.ID) {
		t.Fatalf("expected Delete to report the session existed")
	}
	if !h.closed {
		t.Fatalf("expected Delete to close the extension handle")
	}
	if r.Get(s.ID) != nil {
		t.Fatalf("expected session to be gone after Delete")
	}
	if r.Delete(s.ID) {
		t.Fatalf("expected second Delete to report false")
	}
}

type fakeExtHandle struct{}

func (fakeExtHandle) Close() error { return nil }

type closeTrackingHandle struct{ closed bool }

func (h *closeTrackingHandle) Close() error {
	h.closed = true
	return nil
}
