package ledger

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/ruteri/device-pki/interfaces"
)

var (
	ErrNotAMember    = errors.New("origin is not a member")
	ErrSlotTaken     = errors.New("slot already taken")
	ErrNoLongerValid = errors.New("slot is no longer valid")
	ErrNotTheOwner   = errors.New("origin is not the slot owner")
)

// DefaultSlotValidity is how long a booked or renewed slot stays valid.
const DefaultSlotValidity = 365 * 24 * time.Hour

// Slot is a booked root certificate.
type Slot struct {
	Owner            interfaces.Address
	Key              interfaces.Address
	Created          time.Time
	Renewed          time.Time
	Validity         time.Duration
	Revoked          bool
	ChildRevocations []interfaces.Address
}

// MemoryLedger is an in-process root-of-trust registry. Members book slots
// for root keys, renew them, and revoke them or the children they signed.
type MemoryLedger struct {
	mu       sync.RWMutex
	members  []interfaces.Address
	slots    map[interfaces.Address]*Slot
	validity time.Duration
	now      func() time.Time
}

// NewMemoryLedger creates an empty ledger with the given slot validity.
// A non-positive validity selects DefaultSlotValidity.
func NewMemoryLedger(validity time.Duration) *MemoryLedger {
	if validity <= 0 {
		validity = DefaultSlotValidity
	}
	return &MemoryLedger{
		slots:    make(map[interfaces.Address]*Slot),
		validity: validity,
		now:      time.Now,
	}
}

// WithClock replaces the ledger's time source.
func (l *MemoryLedger) WithClock(now func() time.Time) *MemoryLedger {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
	return l
}

// SetMembers replaces the member set.
func (l *MemoryLedger) SetMembers(members ...interfaces.Address) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.members = slices.Clone(members)
}

// AddMember adds who to the member set if not already present.
func (l *MemoryLedger) AddMember(who interfaces.Address) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !slices.Contains(l.members, who) {
		l.members = append(l.members, who)
	}
}

// RemoveMember drops who from the member set. Slots owned by who become invalid.
func (l *MemoryLedger) RemoveMember(who interfaces.Address) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.members = slices.DeleteFunc(l.members, func(m interfaces.Address) bool { return m == who })
}

// BookSlot registers root as a root key owned by sender.
func (l *MemoryLedger) BookSlot(sender interfaces.Address, root interfaces.Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.isMember(sender) {
		return ErrNotAMember
	}
	if _, taken := l.slots[root]; taken {
		return ErrSlotTaken
	}

	now := l.now()
	l.slots[root] = &Slot{
		Owner:    sender,
		Key:      root,
		Created:  now,
		Renewed:  now,
		Validity: l.validity,
	}
	return nil
}

// RenewSlot extends the validity window of a still valid slot.
func (l *MemoryLedger) RenewSlot(sender interfaces.Address, root interfaces.Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	slot, err := l.ownedValidSlot(sender, root)
	if err != nil {
		return err
	}
	slot.Renewed = l.now()
	return nil
}

// RevokeSlot marks a root key as revoked.
func (l *MemoryLedger) RevokeSlot(sender interfaces.Address, root interfaces.Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	slot, err := l.ownedValidSlot(sender, root)
	if err != nil {
		return err
	}
	slot.Revoked = true
	return nil
}

// RevokeChild revokes a single key signed by root.
func (l *MemoryLedger) RevokeChild(sender interfaces.Address, root interfaces.Address, child interfaces.Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	slot, err := l.ownedValidSlot(sender, root)
	if err != nil {
		return err
	}
	if !slices.Contains(slot.ChildRevocations, child) {
		slot.ChildRevocations = append(slot.ChildRevocations, child)
	}
	return nil
}

// Slot returns a copy of the slot booked for root.
func (l *MemoryLedger) Slot(root interfaces.Address) (Slot, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	slot, ok := l.slots[root]
	if !ok {
		return Slot{}, false
	}
	cp := *slot
	cp.ChildRevocations = slices.Clone(slot.ChildRevocations)
	return cp, true
}

// IsRootValid implements interfaces.Ledger.
func (l *MemoryLedger) IsRootValid(_ context.Context, signer interfaces.Address) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.isRootValid(signer), nil
}

// IsChildValid implements interfaces.Ledger.
func (l *MemoryLedger) IsChildValid(_ context.Context, root interfaces.Address, child interfaces.Address) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if root == child || !l.isRootValid(root) {
		return false, nil
	}
	return !slices.Contains(l.slots[root].ChildRevocations, child), nil
}

func (l *MemoryLedger) ownedValidSlot(sender interfaces.Address, root interfaces.Address) (*Slot, error) {
	slot, ok := l.slots[root]
	if !ok || !l.isSlotValid(slot) {
		return nil, ErrNoLongerValid
	}
	if slot.Owner != sender {
		return nil, ErrNotTheOwner
	}
	return slot, nil
}

func (l *MemoryLedger) isRootValid(root interfaces.Address) bool {
	slot, ok := l.slots[root]
	return ok && l.isSlotValid(slot)
}

func (l *MemoryLedger) isSlotValid(slot *Slot) bool {
	expired := !slot.Renewed.Add(slot.Validity).After(l.now())
	return l.isMember(slot.Owner) && !slot.Revoked && !expired
}

func (l *MemoryLedger) isMember(who interfaces.Address) bool {
	return slices.Contains(l.members, who)
}
