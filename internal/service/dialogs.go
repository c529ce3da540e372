package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/raphaelgruber/medresearch/internal/models"
	"github.com/raphaelgruber/medresearch/internal/store"
)

// ErrFindingNotFound is returned when a finding is absent or belongs to another user.
var ErrFindingNotFound = errors.New("finding not found")

// DialogService exposes a user's dialogs and findings.
// Every accessor checks ownership and reports foreign records as not found.
type DialogService struct {
	store store.Store
}

// NewDialogService creates a new dialog service.
func NewDialogService(st store.Store) *DialogService {
	return &DialogService{store: st}
}

// List returns the user's dialogs, most recently updated first.
func (s *DialogService) List(ctx context.Context, userID int64) ([]*models.Dialog, error) {
	dialogs, err := s.store.Dialogs().ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list dialogs: %w", err)
	}
	return dialogs, nil
}

// Get returns an owned dialog.
func (s *DialogService) Get(ctx context.Context, userID, dialogID int64) (*models.Dialog, error) {
	d, err := s.store.Dialogs().GetByID(ctx, dialogID)
	if err != nil {
		return nil, fmt.Errorf("get dialog %d: %w", dialogID, err)
	}
	if d == nil || d.UserID != userID {
		return nil, ErrDialogNotFound
	}
	return d, nil
}

// Delete removes an owned dialog together with its findings.
func (s *DialogService) Delete(ctx context.Context, userID, dialogID int64) error {
	if _, err := s.Get(ctx, userID, dialogID); err != nil {
		return err
	}
	if err := s.store.Dialogs().Delete(ctx, dialogID); err != nil {
		return fmt.Errorf("delete dialog %d: %w", dialogID, err)
	}
	return nil
}

// Findings lists the findings of an owned dialog, newest first.
func (s *DialogService) Findings(ctx context.Context, userID, dialogID int64) ([]*models.Finding, error) {
	if _, err := s.Get(ctx, userID, dialogID); err != nil {
		return nil, err
	}
	findings, err := s.store.Findings().ListByDialog(ctx, dialogID)
	if err != nil {
		return nil, fmt.Errorf("list findings: %w", err)
	}
	return findings, nil
}

// Finding returns a finding whose dialog is owned by the user.
func (s *DialogService) Finding(ctx context.Context, userID, findingID int64) (*models.Finding, error) {
	f, err := s.store.Findings().GetByID(ctx, findingID)
	if err != nil {
		return nil, fmt.Errorf("get finding %d: %w", findingID, err)
	}
	if f == nil {
		return nil, ErrFindingNotFound
	}
	if _, err := s.Get(ctx, userID, f.DialogID); err != nil {
		if errors.Is(err, ErrDialogNotFound) {
			return nil, ErrFindingNotFound
		}
		return nil, err
	}
	return f, nil
}

// SetRelevance records the user's relevance feedback on a finding.
// Marking is idempotent in both directions.
func (s *DialogService) SetRelevance(ctx context.Context, userID, findingID int64, relevant bool) (*models.Finding, error) {
	if _, err := s.Finding(ctx, userID, findingID); err != nil {
		return nil, err
	}
	mark := s.store.Findings().MarkNonRelevant
	if relevant {
		mark = s.store.Findings().MarkRelevant
	}
	if err := mark(ctx, findingID); err != nil {
		return nil, fmt.Errorf("mark finding %d: %w", findingID, err)
	}
	return s.Finding(ctx, userID, findingID)
}

// DeleteFinding removes a finding owned by the user.
func (s *DialogService) DeleteFinding(ctx context.Context, userID, findingID int64) error {
	if _, err := s.Finding(ctx, userID, findingID); err != nil {
		return err
	}
	if err := s.store.Findings().Delete(ctx, findingID); err != nil {
		return fmt.Errorf("delete finding %d: %w", findingID, err)
	}
	return nil
}

// UserService resolves users by email.
type UserService struct {
	store store.Store
}

// NewUserService creates a new user service.
func NewUserService(st store.Store) *UserService {
	return &UserService{store: st}
}

// Resolve returns the user with the given email, creating it on first sight.
func (s *UserService) Resolve(ctx context.Context, email string) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, errors.New("user email is required")
	}
	u, err := s.store.Users().GetByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if u != nil {
		return u, nil
	}
	u, err = s.store.Users().Create(ctx, models.UserProfile{Email: email})
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

// ProfileUpdate holds the editable profile fields. Nil fields stay unchanged.
type ProfileUpdate struct {
	Name         *string
	Picture      *string
	TrustedSites []string
}

// UpdateProfile applies the update and persists the user.
func (s *UserService) UpdateProfile(ctx context.Context, u *models.User, upd ProfileUpdate) (*models.User, error) {
	out := u.Clone()
	if upd.Name != nil {
		out.Profile.Name = strings.TrimSpace(*upd.Name)
	}
	if upd.Picture != nil {
		out.Profile.Picture = strings.TrimSpace(*upd.Picture)
	}
	if upd.TrustedSites != nil {
		out.Profile.TrustedSites = normalizeSites(upd.TrustedSites)
	}
	if err := s.store.Users().Save(ctx, out); err != nil {
		return nil, fmt.Errorf("save user: %w", err)
	}
	return out, nil
}

// normalizeSites lowercases, trims and dedups site entries, keeping first-seen order.
func normalizeSites(sites []string) []string {
	out := make([]string, 0, len(sites))
	seen := make(map[string]bool, len(sites))
	for _, s := range sites {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
