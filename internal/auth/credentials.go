package auth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"gatehouse/internal/crypto"
	"gatehouse/internal/ids"
	"gatehouse/internal/obs"
)

// Mailer delivers rendered messages. Delivery mechanics live outside this
// core.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// NopMailer drops messages; used in tests and local development.
type NopMailer struct{}

func (NopMailer) Send(context.Context, string, string, string) error { return nil }

// Credentials verifies passwords and manages magic links and invitations.
type Credentials struct {
	store   Store
	mailer  Mailer
	baseURL string
	now     func() time.Time
}

func NewCredentials(store Store, mailer Mailer, baseURL string) *Credentials {
	if mailer == nil {
		mailer = NopMailer{}
	}
	return &Credentials{
		store:   store,
		mailer:  mailer,
		baseURL: strings.TrimRight(baseURL, "/"),
		now:     time.Now,
	}
}

// WithClock overrides the time source, for tests.
func (c *Credentials) WithClock(fn func() time.Time) *Credentials {
	if fn != nil {
		c.now = fn
	}
	return c
}

// AuthenticatePassword verifies an email/password pair. The user must exist,
// be active and have a password set (magic-link-only accounts have none).
// Failures are uniform so callers cannot probe which part failed.
func (c *Credentials) AuthenticatePassword(ctx context.Context, email, password string) (*User, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		obs.LoginAttempts.WithLabelValues("password", "failure").Inc()
		return nil, &AuthenticationError{Reason: "invalid credentials"}
	}
	user, err := c.store.Users().FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			obs.LoginAttempts.WithLabelValues("password", "failure").Inc()
			return nil, &AuthenticationError{Reason: "invalid credentials"}
		}
		return nil, err
	}
	if user.Status != UserStatusActive || user.PasswordHash == "" {
		obs.LoginAttempts.WithLabelValues("password", "failure").Inc()
		return nil, &AuthenticationError{Reason: "invalid credentials"}
	}
	if err := crypto.VerifyPassword(user.PasswordHash, password); err != nil {
		obs.LoginAttempts.WithLabelValues("password", "failure").Inc()
		return nil, &AuthenticationError{Reason: "invalid credentials"}
	}
	now := c.now().UTC()
	if err := c.store.Users().RecordLogin(ctx, user.ID, now); err != nil {
		return nil, err
	}
	user.LastLoginAt = &now
	obs.LoginAttempts.WithLabelValues("password", "success").Inc()
	return user, nil
}

// CreateMagicLink issues a single-use sign-in token for the email and mails
// the verification URL. The raw token is also returned for callers that
// deliver it through another channel.
func (c *Credentials) CreateMagicLink(ctx context.Context, email, purpose string) (*MagicLink, string, error) {
	email = normalizeEmail(email)
	purpose = strings.TrimSpace(purpose)
	if email == "" || purpose == "" {
		return nil, "", fmt.Errorf("%w: email and purpose are required", ErrInvalidInput)
	}
	raw, err := crypto.NewToken()
	if err != nil {
		return nil, "", err
	}
	now := c.now().UTC()
	link := &MagicLink{
		ID:        ids.New(),
		Email:     email,
		TokenHash: crypto.HashToken(raw),
		Purpose:   purpose,
		ExpiresAt: now.Add(MagicLinkTTL),
		CreatedAt: now,
	}
	if err := c.store.MagicLinks().Create(ctx, link); err != nil {
		return nil, "", err
	}
	verifyURL := fmt.Sprintf("%s/auth/verify?token=%s&email=%s",
		c.baseURL, url.QueryEscape(raw), url.QueryEscape(email))
	if err := c.mailer.Send(ctx, email, "Your sign-in link", verifyURL); err != nil {
		return nil, "", err
	}
	return link, raw, nil
}

// VerifyMagicLink consumes a magic link. Unknown, expired or already-used
// tokens return (nil, nil): absence is a normal outcome here, and the
// consume-once write is what enforces single use. Verification is never
// retried implicitly.
func (c *Credentials) VerifyMagicLink(ctx context.Context, email, rawToken string) (*MagicLink, error) {
	email = normalizeEmail(email)
	rawToken = strings.TrimSpace(rawToken)
	if email == "" || rawToken == "" {
		return nil, nil
	}
	link, err := c.store.MagicLinks().Find(ctx, email, crypto.HashToken(rawToken))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			obs.LoginAttempts.WithLabelValues("magic_link", "failure").Inc()
			return nil, nil
		}
		return nil, err
	}
	now := c.now().UTC()
	if link.ConsumedAt != nil || !link.ExpiresAt.After(now) {
		obs.LoginAttempts.WithLabelValues("magic_link", "failure").Inc()
		return nil, nil
	}
	if err := c.store.MagicLinks().Consume(ctx, link.ID, now); err != nil {
		if errors.Is(err, ErrNotFound) {
			// Lost the consume race: someone already used it.
			obs.LoginAttempts.WithLabelValues("magic_link", "failure").Inc()
			return nil, nil
		}
		return nil, err
	}
	link.ConsumedAt = &now
	obs.LoginAttempts.WithLabelValues("magic_link", "success").Inc()
	return link, nil
}

// CreateInvitation invites an email into a tenant with a role. A pending
// invitation for the same email and tenant is a typed conflict, never a
// silent no-op.
func (c *Credentials) CreateInvitation(ctx context.Context, email, orgID, role string) (*Invitation, string, error) {
	email = normalizeEmail(email)
	orgID = strings.TrimSpace(orgID)
	role = strings.TrimSpace(role)
	if email == "" || orgID == "" || role == "" {
		return nil, "", fmt.Errorf("%w: email, organization and role are required", ErrInvalidInput)
	}
	if existing, err := c.store.Invitations().FindPending(ctx, email, orgID); err == nil && existing != nil {
		return nil, "", fmt.Errorf("%w: invitation already pending for %s", ErrAlreadyExists, email)
	} else if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, "", err
	}
	raw, err := crypto.NewToken()
	if err != nil {
		return nil, "", err
	}
	now := c.now().UTC()
	inv := &Invitation{
		ID:             ids.New(),
		Email:          email,
		OrganizationID: orgID,
		Role:           role,
		TokenHash:      crypto.HashToken(raw),
		ExpiresAt:      now.Add(InvitationTTL),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := c.store.Invitations().Create(ctx, inv); err != nil {
		return nil, "", err
	}
	joinURL := fmt.Sprintf("%s/auth/join?token=%s", c.baseURL, url.QueryEscape(raw))
	if err := c.mailer.Send(ctx, email, "You have been invited", joinURL); err != nil {
		return nil, "", err
	}
	return inv, raw, nil
}

// ResendInvitation rotates the token and expiry of a pending invitation and
// re-sends the mail. The old token stops working immediately.
func (c *Credentials) ResendInvitation(ctx context.Context, email, orgID string) (string, error) {
	email = normalizeEmail(email)
	inv, err := c.store.Invitations().FindPending(ctx, email, strings.TrimSpace(orgID))
	if err != nil {
		return "", err
	}
	raw, err := crypto.NewToken()
	if err != nil {
		return "", err
	}
	now := c.now().UTC()
	if err := c.store.Invitations().Rotate(ctx, inv.ID, crypto.HashToken(raw), now.Add(InvitationTTL)); err != nil {
		return "", err
	}
	joinURL := fmt.Sprintf("%s/auth/join?token=%s", c.baseURL, url.QueryEscape(raw))
	if err := c.mailer.Send(ctx, email, "You have been invited", joinURL); err != nil {
		return "", err
	}
	return raw, nil
}

// AcceptInvitation consumes an invitation token and creates the membership it
// promised. The invited user must already exist (signup happens upstream).
func (c *Credentials) AcceptInvitation(ctx context.Context, rawToken string) (*Membership, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return nil, fmt.Errorf("%w: invitation token is required", ErrInvalidInput)
	}
	inv, err := c.store.Invitations().FindByTokenHash(ctx, crypto.HashToken(rawToken))
	if err != nil {
		return nil, err
	}
	now := c.now().UTC()
	if inv.AcceptedAt != nil || !inv.ExpiresAt.After(now) {
		return nil, fmt.Errorf("%w: invitation expired or already accepted", ErrInvalidInput)
	}
	user, err := c.store.Users().FindByEmail(ctx, inv.Email)
	if err != nil {
		return nil, err
	}
	membership := &Membership{
		UserID:         user.ID,
		OrganizationID: inv.OrganizationID,
		Role:           inv.Role,
		CreatedAt:      now,
	}
	if err := c.store.Memberships().Create(ctx, membership); err != nil {
		return nil, err
	}
	if err := c.store.Invitations().MarkAccepted(ctx, inv.ID, now); err != nil {
		return nil, err
	}
	return membership, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
