package ledger

import (
	"fmt"
	"log/slog"

	"github.com/BTreeMap/CareLedger/internal/models"

	"github.com/google/uuid"
)

// LinkMember adds a caregiver to the requester's child record, creating the
// record on first use with the requester as owner. Only owners may link
// additional members; a phone already linked anywhere is rejected.
func (l *Ledger) LinkMember(tenantID, ownerPhone, memberPhone, childName string) (*models.Child, error) {
	if memberPhone == ownerPhone {
		return nil, models.ErrAlreadyLinked
	}
	existing, err := l.store.MembershipForPhone(tenantID, memberPhone)
	if err != nil {
		return nil, fmt.Errorf("link member: %w", err)
	}
	if existing != nil {
		return nil, models.ErrAlreadyLinked
	}

	ownerM, err := l.store.MembershipForPhone(tenantID, ownerPhone)
	if err != nil {
		return nil, fmt.Errorf("link member: %w", err)
	}

	var child *models.Child
	if ownerM == nil {
		if childName == "" {
			childName = "your child"
		}
		child = &models.Child{
			ID:        uuid.NewString(),
			TenantID:  tenantID,
			Name:      childName,
			CreatedBy: ownerPhone,
			CreatedAt: l.now(),
		}
		if err := l.store.CreateChild(*child); err != nil {
			return nil, fmt.Errorf("link member: %w", err)
		}
		if err := l.store.AddChildMember(models.ChildMember{
			ChildID:   child.ID,
			Phone:     ownerPhone,
			Role:      models.RoleOwner,
			CreatedAt: l.now(),
		}); err != nil {
			return nil, fmt.Errorf("link member: %w", err)
		}
		slog.Info("Ledger.LinkMember: child record created", "child_id", child.ID, "owner", ownerPhone)
	} else {
		if ownerM.Role != models.RoleOwner {
			return nil, models.ErrNotOwner
		}
		child, err = l.store.GetChild(ownerM.ChildID)
		if err != nil {
			return nil, fmt.Errorf("link member: %w", err)
		}
		if child == nil {
			return nil, models.ErrNotAMember
		}
	}

	if err := l.store.AddChildMember(models.ChildMember{
		ChildID:   child.ID,
		Phone:     memberPhone,
		Role:      models.RoleParent,
		CreatedAt: l.now(),
	}); err != nil {
		return nil, fmt.Errorf("link member: %w", err)
	}
	slog.Info("Ledger.LinkMember: member linked", "child_id", child.ID, "phone", memberPhone)
	return child, nil
}

// RemoveMember takes a caregiver off the requester's child record. Members
// may remove themselves; removing anyone else requires the owner role. A
// child is never left with members but no owner: when the owner leaves, the
// longest-standing remaining member is promoted.
func (l *Ledger) RemoveMember(tenantID, requesterPhone, memberPhone string) error {
	reqM, err := l.store.MembershipForPhone(tenantID, requesterPhone)
	if err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	if reqM == nil {
		return models.ErrNotAMember
	}
	if requesterPhone != memberPhone && reqM.Role != models.RoleOwner {
		return models.ErrNotOwner
	}

	members, err := l.store.ListChildMembers(reqM.ChildID)
	if err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	found := false
	for _, m := range members {
		if m.Phone == memberPhone {
			found = true
			break
		}
	}
	if !found {
		return models.ErrNotAMember
	}

	if err := l.store.RemoveChildMember(reqM.ChildID, memberPhone); err != nil {
		return fmt.Errorf("remove member: %w", err)
	}

	remaining, err := l.store.ListChildMembers(reqM.ChildID)
	if err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	if len(remaining) == 0 {
		slog.Info("Ledger.RemoveMember: last member removed", "child_id", reqM.ChildID, "phone", memberPhone)
		return nil
	}
	for _, m := range remaining {
		if m.Role == models.RoleOwner {
			return nil
		}
	}

	// The owner left; promote the longest-standing member.
	next := remaining[0]
	for _, m := range remaining[1:] {
		if m.CreatedAt.Before(next.CreatedAt) {
			next = m
		}
	}
	if err := l.store.UpdateChildMemberRole(reqM.ChildID, next.Phone, models.RoleOwner); err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	slog.Info("Ledger.RemoveMember: ownership reassigned", "child_id", reqM.ChildID, "new_owner", next.Phone)
	return nil
}
