package library

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

type registration struct {
	Name     string `validate:"required"`
	Email    string `validate:"required,email"`
	Password string `validate:"required,min=6"`
	Role     Role   `validate:"required,oneof=admin student"`
}

// MemberRegistry is the identity collaborator: it registers members,
// authenticates credentials into an Identity, and tracks suspensions.
type MemberRegistry struct {
	mu      sync.RWMutex
	members map[string]*Member
	order   []string
	emails  map[string]string // lowercased email -> member id
}

// NewMemberRegistry creates an empty registry.
func NewMemberRegistry() *MemberRegistry {
	return &MemberRegistry{
		members: make(map[string]*Member),
		emails:  make(map[string]string),
	}
}

// Register creates an active member with a bcrypt password hash.
func (r *MemberRegistry) Register(name, email, password string, role Role, joined time.Time) (Member, error) {
	in := registration{Name: name, Email: email, Password: password, Role: role}
	if err := validate.Struct(in); err != nil {
		return Member{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return Member{}, fmt.Errorf("hash password: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := strings.ToLower(email)
	if _, ok := r.emails[key]; ok {
		return Member{}, fmt.Errorf("%w: email %s already registered", ErrValidation, email)
	}

	m := &Member{
		ID:           uuid.NewString(),
		Name:         name,
		Email:        email,
		Role:         role,
		Status:       MemberActive,
		JoinDate:     joined,
		PasswordHash: string(hash),
	}
	r.members[m.ID] = m
	r.order = append(r.order, m.ID)
	r.emails[key] = m.ID
	return *m, nil
}

// Authenticate verifies credentials and yields the caller identity. The
// error never says whether the email or the password was wrong.
func (r *MemberRegistry) Authenticate(email, password string) (Identity, error) {
	r.mu.RLock()
	id, ok := r.emails[strings.ToLower(email)]
	var m *Member
	if ok {
		m = r.members[id]
	}
	r.mu.RUnlock()

	if m == nil {
		return Identity{}, fmt.Errorf("%w: invalid credentials", ErrAuthorization)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(m.PasswordHash), []byte(password)); err != nil {
		return Identity{}, fmt.Errorf("%w: invalid credentials", ErrAuthorization)
	}
	if m.Status == MemberSuspended {
		return Identity{}, fmt.Errorf("%w: account suspended", ErrAuthorization)
	}
	return Identity{MemberID: m.ID, Role: m.Role}, nil
}

// GetMember returns a copy of the member.
func (r *MemberRegistry) GetMember(id string) (Member, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.members[id]
	if !ok {
		return Member{}, fmt.Errorf("%w: member %s", ErrNotFound, id)
	}
	return *m, nil
}

// Suspend blocks the member from borrowing and renewing.
func (r *MemberRegistry) Suspend(id string) error {
	return r.setStatus(id, MemberSuspended)
}

// Reactivate lifts a suspension.
func (r *MemberRegistry) Reactivate(id string) error {
	return r.setStatus(id, MemberActive)
}

func (r *MemberRegistry) setStatus(id string, status MemberStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.members[id]
	if !ok {
		return fmt.Errorf("%w: member %s", ErrNotFound, id)
	}
	if m.Status == status {
		return fmt.Errorf("%w: member %s already %s", ErrInvalidState, id, status)
	}
	m.Status = status
	return nil
}

// ListMembers returns all members in registration order.
func (r *MemberRegistry) ListMembers() []Member {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Member, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.members[id])
	}
	return out
}

// SearchMembers filters members by case-insensitive substring of name or
// email.
func (r *MemberRegistry) SearchMembers(term string) []Member {
	needle := strings.ToLower(strings.TrimSpace(term))

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Member
	for _, id := range r.order {
		m := r.members[id]
		if needle == "" ||
			strings.Contains(strings.ToLower(m.Name), needle) ||
			strings.Contains(strings.ToLower(m.Email), needle) {
			out = append(out, *m)
		}
	}
	return out
}

// restoreMember reinstates a persisted member verbatim, hash included.
func (r *MemberRegistry) restoreMember(m Member) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := m
	r.members[m.ID] = &cp
	r.order = append(r.order, m.ID)
	r.emails[strings.ToLower(m.Email)] = m.ID
}
