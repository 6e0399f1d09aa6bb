package ledger

import (
	"errors"
	"testing"

	"github.com/BTreeMap/CareLedger/internal/models"
)

func TestLinkMemberCreatesChildAndOwner(t *testing.T) {
	l, st := newTestLedger(testNow)

	child, err := l.LinkMember("", "+15551110001", "+15551110002", "Asha")
	if err != nil {
		t.Fatalf("LinkMember: %v", err)
	}
	if child.Name != "Asha" || child.CreatedBy != "+15551110001" {
		t.Errorf("child = %+v", child)
	}

	members, _ := st.ListChildMembers(child.ID)
	if len(members) != 2 {
		t.Fatalf("members = %d, want 2", len(members))
	}
	roles := map[string]models.MemberRole{}
	for _, m := range members {
		roles[m.Phone] = m.Role
	}
	if roles["+15551110001"] != models.RoleOwner {
		t.Errorf("creator role = %q, want owner", roles["+15551110001"])
	}
	if roles["+15551110002"] != models.RoleParent {
		t.Errorf("linked role = %q, want parent", roles["+15551110002"])
	}

	// Both phones now resolve to the shared child scope.
	scope, childID, err := l.ResolveScope("", "+15551110002")
	if err != nil || scope.ScopeID != child.ID || childID != child.ID {
		t.Errorf("linked member scope = %q child = %q (%v)", scope.ScopeID, childID, err)
	}
}

func TestLinkMemberRequiresOwner(t *testing.T) {
	l, _ := newTestLedger(testNow)
	if _, err := l.LinkMember("", "+15551110001", "+15551110002", ""); err != nil {
		t.Fatalf("LinkMember: %v", err)
	}

	// The parent cannot link further members.
	_, err := l.LinkMember("", "+15551110002", "+15551110003", "")
	if !errors.Is(err, models.ErrNotOwner) {
		t.Errorf("expected ErrNotOwner, got %v", err)
	}
}

func TestLinkMemberRejectsAlreadyLinked(t *testing.T) {
	l, _ := newTestLedger(testNow)
	if _, err := l.LinkMember("", "+15551110001", "+15551110002", ""); err != nil {
		t.Fatalf("LinkMember: %v", err)
	}

	if _, err := l.LinkMember("", "+15551110001", "+15551110002", ""); !errors.Is(err, models.ErrAlreadyLinked) {
		t.Errorf("relink: expected ErrAlreadyLinked, got %v", err)
	}
	if _, err := l.LinkMember("", "+15551110001", "+15551110001", ""); !errors.Is(err, models.ErrAlreadyLinked) {
		t.Errorf("self-link: expected ErrAlreadyLinked, got %v", err)
	}
}

func TestRemoveMemberPromotesNewOwner(t *testing.T) {
	l, st := newTestLedger(testNow)

	child, err := l.LinkMember("", "+15551110001", "+15551110002", "")
	if err != nil {
		t.Fatalf("LinkMember: %v", err)
	}
	if _, err := l.LinkMember("", "+15551110001", "+15551110003", ""); err != nil {
		t.Fatalf("LinkMember: %v", err)
	}

	// The owner leaves; the record must not be left without an owner.
	if err := l.RemoveMember("", "+15551110001", "+15551110001"); err != nil {
		t.Fatalf("RemoveMember: %v", err)
	}

	members, _ := st.ListChildMembers(child.ID)
	if len(members) != 2 {
		t.Fatalf("members = %d, want 2", len(members))
	}
	owners := 0
	for _, m := range members {
		if m.Role == models.RoleOwner {
			owners++
		}
	}
	if owners != 1 {
		t.Errorf("child has %d owner(s) after owner removal, want 1", owners)
	}
}

func TestRemoveMemberLastMemberLeaves(t *testing.T) {
	l, st := newTestLedger(testNow)
	child, err := l.LinkMember("", "+15551110001", "+15551110002", "")
	if err != nil {
		t.Fatalf("LinkMember: %v", err)
	}

	if err := l.RemoveMember("", "+15551110001", "+15551110002"); err != nil {
		t.Fatalf("remove parent: %v", err)
	}
	if err := l.RemoveMember("", "+15551110001", "+15551110001"); err != nil {
		t.Fatalf("remove owner: %v", err)
	}
	members, _ := st.ListChildMembers(child.ID)
	if len(members) != 0 {
		t.Errorf("members = %d after everyone left, want 0", len(members))
	}
}

func TestRemoveMemberPermissions(t *testing.T) {
	l, _ := newTestLedger(testNow)
	if _, err := l.LinkMember("", "+15551110001", "+15551110002", ""); err != nil {
		t.Fatalf("LinkMember: %v", err)
	}
	if _, err := l.LinkMember("", "+15551110001", "+15551110003", ""); err != nil {
		t.Fatalf("LinkMember: %v", err)
	}

	// A parent cannot remove another member, but may remove themselves.
	if err := l.RemoveMember("", "+15551110002", "+15551110003"); !errors.Is(err, models.ErrNotOwner) {
		t.Errorf("expected ErrNotOwner, got %v", err)
	}
	if err := l.RemoveMember("", "+15551110002", "+15551110002"); err != nil {
		t.Errorf("self-removal: %v", err)
	}

	// An unlinked phone cannot remove anyone.
	if err := l.RemoveMember("", "+15559990000", "+15551110001"); !errors.Is(err, models.ErrNotAMember) {
		t.Errorf("expected ErrNotAMember, got %v", err)
	}
}
