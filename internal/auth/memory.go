package auth

import (
	"context"
	"strings"
	"sync"
	"time"

	"gatehouse/internal/ids"
)

var _ Store = (*MemStore)(nil)

// MemStore is an in-memory Store used in tests and local development. All
// methods copy on the way in and out so callers never share row pointers.
type MemStore struct {
	mu          sync.Mutex
	users       map[string]*User
	orgs        map[string]*Organization
	memberships map[string]*Membership // key userID + "/" + orgID
	sessions    map[string]*Session
	magicLinks  map[string]*MagicLink
	invitations map[string]*Invitation
}

func NewMemStore() *MemStore {
	return &MemStore{
		users:       make(map[string]*User),
		orgs:        make(map[string]*Organization),
		memberships: make(map[string]*Membership),
		sessions:    make(map[string]*Session),
		magicLinks:  make(map[string]*MagicLink),
		invitations: make(map[string]*Invitation),
	}
}

func (s *MemStore) Users() UserStore                 { return (*memUsers)(s) }
func (s *MemStore) Organizations() OrganizationStore { return (*memOrgs)(s) }
func (s *MemStore) Memberships() MembershipStore     { return (*memMemberships)(s) }
func (s *MemStore) Sessions() SessionStore           { return (*memSessions)(s) }
func (s *MemStore) MagicLinks() MagicLinkStore       { return (*memMagicLinks)(s) }
func (s *MemStore) Invitations() InvitationStore     { return (*memInvitations)(s) }

// Users ---------------------------------------------------------------------

type memUsers MemStore

func (s *memUsers) Create(_ context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == "" {
		u.ID = ids.New()
	}
	u.Email = strings.ToLower(u.Email)
	for _, existing := range s.users {
		if existing.Email == u.Email {
			return ErrAlreadyExists
		}
	}
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *memUsers) Find(_ context.Context, id string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *memUsers) FindByEmail(_ context.Context, email string) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	email = strings.ToLower(strings.TrimSpace(email))
	for _, u := range s.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memUsers) SetStatus(_ context.Context, id, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	u.Status = status
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *memUsers) SetPassword(_ context.Context, id, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	u.PasswordHash = passwordHash
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *memUsers) MarkEmailVerified(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	u.EmailVerified = true
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *memUsers) RecordLogin(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	u.LastLoginAt = &at
	return nil
}

// Organizations -------------------------------------------------------------

type memOrgs MemStore

func (s *memOrgs) Create(_ context.Context, org *Organization) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if org.ID == "" {
		org.ID = ids.New()
	}
	org.Slug = strings.ToLower(org.Slug)
	for _, existing := range s.orgs {
		if existing.Slug == org.Slug {
			return ErrAlreadyExists
		}
	}
	now := time.Now().UTC()
	if org.CreatedAt.IsZero() {
		org.CreatedAt = now
	}
	org.UpdatedAt = now
	cp := *org
	s.orgs[org.ID] = &cp
	return nil
}

func (s *memOrgs) Find(_ context.Context, id string) (*Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	org, ok := s.orgs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *org
	return &cp, nil
}

func (s *memOrgs) FindBySlug(_ context.Context, slug string) (*Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slug = strings.ToLower(strings.TrimSpace(slug))
	for _, org := range s.orgs {
		if org.Slug == slug {
			cp := *org
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

// Memberships ---------------------------------------------------------------

type memMemberships MemStore

func membershipKey(userID, orgID string) string { return userID + "/" + orgID }

func (s *memMemberships) Create(_ context.Context, m *Membership) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := membershipKey(m.UserID, m.OrganizationID)
	if _, ok := s.memberships[key]; ok {
		return ErrAlreadyExists
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	cp := *m
	s.memberships[key] = &cp
	return nil
}

func (s *memMemberships) Find(_ context.Context, userID, orgID string) (*Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memberships[membershipKey(userID, orgID)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *memMemberships) ListByUser(_ context.Context, userID string) ([]*Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Membership
	for _, m := range s.memberships {
		if m.UserID == userID {
			cp := *m
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memMemberships) Delete(_ context.Context, userID, orgID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := membershipKey(userID, orgID)
	if _, ok := s.memberships[key]; !ok {
		return ErrNotFound
	}
	delete(s.memberships, key)
	return nil
}

func (s *memMemberships) SetDefault(_ context.Context, userID, orgID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	target, ok := s.memberships[membershipKey(userID, orgID)]
	if !ok {
		return ErrNotFound
	}
	for _, m := range s.memberships {
		if m.UserID == userID {
			m.IsDefault = false
		}
	}
	target.IsDefault = true
	return nil
}

func (s *memMemberships) TouchLastActive(_ context.Context, userID, orgID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memberships[membershipKey(userID, orgID)]
	if !ok {
		return ErrNotFound
	}
	m.LastActiveAt = &at
	return nil
}

// Sessions ------------------------------------------------------------------

type memSessions MemStore

func (s *memSessions) Create(_ context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess.ID == "" {
		sess.ID = ids.New()
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}
	cp := *sess
	s.sessions[sess.ID] = &cp
	return nil
}

func (s *memSessions) Find(_ context.Context, id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

func (s *memSessions) FindByTokenHash(_ context.Context, tokenHash string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if sess.TokenHash == tokenHash {
			cp := *sess
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memSessions) Revoke(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil
	}
	if sess.RevokedAt == nil {
		sess.RevokedAt = &at
	}
	return nil
}

func (s *memSessions) RevokeAllForUser(_ context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if sess.UserID == userID && sess.RevokedAt == nil {
			t := at
			sess.RevokedAt = &t
		}
	}
	return nil
}

func (s *memSessions) UpdateOrganization(_ context.Context, id, orgID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return ErrNotFound
	}
	sess.OrganizationID = orgID
	return nil
}

func (s *memSessions) PurgeExpired(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, sess := range s.sessions {
		if sess.ExpiresAt.Before(before) {
			delete(s.sessions, id)
			n++
		}
	}
	return n, nil
}

// Magic links ---------------------------------------------------------------

type memMagicLinks MemStore

func (s *memMagicLinks) Create(_ context.Context, l *MagicLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l.ID == "" {
		l.ID = ids.New()
	}
	cp := *l
	s.magicLinks[l.ID] = &cp
	return nil
}

func (s *memMagicLinks) Find(_ context.Context, email, tokenHash string) (*MagicLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	email = strings.ToLower(strings.TrimSpace(email))
	for _, l := range s.magicLinks {
		if l.Email == email && l.TokenHash == tokenHash {
			cp := *l
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memMagicLinks) Consume(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.magicLinks[id]
	if !ok || l.ConsumedAt != nil {
		return ErrNotFound
	}
	l.ConsumedAt = &at
	return nil
}

// Invitations ---------------------------------------------------------------

type memInvitations MemStore

func (s *memInvitations) Create(_ context.Context, inv *Invitation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if inv.ID == "" {
		inv.ID = ids.New()
	}
	cp := *inv
	s.invitations[inv.ID] = &cp
	return nil
}

func (s *memInvitations) FindByTokenHash(_ context.Context, tokenHash string) (*Invitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, inv := range s.invitations {
		if inv.TokenHash == tokenHash {
			cp := *inv
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memInvitations) FindPending(_ context.Context, email, orgID string) (*Invitation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	email = strings.ToLower(strings.TrimSpace(email))
	for _, inv := range s.invitations {
		if inv.Email == email && inv.OrganizationID == orgID && inv.AcceptedAt == nil {
			cp := *inv
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *memInvitations) Rotate(_ context.Context, id, tokenHash string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invitations[id]
	if !ok {
		return ErrNotFound
	}
	inv.TokenHash = tokenHash
	inv.ExpiresAt = expiresAt
	inv.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *memInvitations) MarkAccepted(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invitations[id]
	if !ok {
		return ErrNotFound
	}
	inv.AcceptedAt = &at
	inv.UpdatedAt = at
	return nil
}
