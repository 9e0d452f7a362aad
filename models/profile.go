package models

import (
	"time"

	"github.com/google/uuid"
)

// MembershipProfile is the durable per-user record mutated by the membership
// grant. Rows are created at account creation; this service only ever
// updates them.
type MembershipProfile struct {
	ID               uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	UserID           string     `gorm:"type:varchar(64);uniqueIndex;not null" json:"user_id"`
	Email            string     `gorm:"type:varchar(255);index;not null" json:"email"`
	StripeCustomerID *string    `gorm:"type:varchar(255)" json:"stripe_customer_id,omitempty"`
	IsMember         bool       `gorm:"not null;default:false" json:"is_member"`
	MembershipPlans  []string   `gorm:"type:jsonb;serializer:json" json:"membership_plans"`
	MemberSince      *time.Time `json:"member_since,omitempty"`
	MembershipExpiry *time.Time `json:"membership_expiration,omitempty"`
	MembershipSource string     `gorm:"type:varchar(64)" json:"membership_source"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// PlanSet models membership_plans as a genuine set so the union applied by
// the grant is explicitly idempotent. Insertion order is preserved for
// persistence but carries no meaning.
type PlanSet struct {
	items []string
	index map[string]struct{}
}

// NewPlanSet builds a set from a stored plan list, dropping duplicates.
func NewPlanSet(plans ...string) PlanSet {
	s := PlanSet{index: make(map[string]struct{}, len(plans))}
	for _, p := range plans {
		s.Add(p)
	}
	return s
}

// Add unions a plan into the set. Returns true when the plan was not
// already present.
func (s *PlanSet) Add(plan string) bool {
	if s.index == nil {
		s.index = make(map[string]struct{})
	}
	if _, ok := s.index[plan]; ok {
		return false
	}
	s.index[plan] = struct{}{}
	s.items = append(s.items, plan)
	return true
}

// Contains reports whether the plan is in the set.
func (s PlanSet) Contains(plan string) bool {
	_, ok := s.index[plan]
	return ok
}

// List returns the plans as a slice for persistence.
func (s PlanSet) List() []string {
	out := make([]string, len(s.items))
	copy(out, s.items)
	return out
}

// LaterOf returns the later of two expiration dates, treating nil as the
// zero time. Membership always extends, never shortens.
func LaterOf(existing *time.Time, candidate time.Time) time.Time {
	if existing != nil && existing.After(candidate) {
		return *existing
	}
	return candidate
}
