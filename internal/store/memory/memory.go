// Package memory provides a process-lifetime store backend.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/raphaelgruber/medresearch/internal/models"
	"github.com/raphaelgruber/medresearch/internal/store"
)

// Store keeps all records in maps guarded by a single lock.
// Records are cloned on the way in and out so callers never share state with the store.
type Store struct {
	mu sync.RWMutex

	dialogs  map[int64]*models.Dialog
	findings map[int64]*models.Finding
	users    map[int64]*models.User

	lastDialogID  int64
	lastFindingID int64
	lastUserID    int64

	now func() time.Time
}

// New creates an empty memory store.
func New() *Store {
	return &Store{
		dialogs:  make(map[int64]*models.Dialog),
		findings: make(map[int64]*models.Finding),
		users:    make(map[int64]*models.User),
		now:      time.Now,
	}
}

func (s *Store) Dialogs() store.Dialogs   { return (*dialogs)(s) }
func (s *Store) Findings() store.Findings { return (*findings)(s) }
func (s *Store) Users() store.Users       { return (*users)(s) }

// Close is a no-op.
func (s *Store) Close(context.Context) error { return nil }

// --- Dialogs ---

type dialogs Store

func (d *dialogs) Create(_ context.Context, userID int64, messages []models.ChatMessage, title string) (*models.Dialog, error) {
	if title == "" {
		title = models.DefaultDialogTitle
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	d.lastDialogID++
	dlg := &models.Dialog{
		ID:          d.lastDialogID,
		UserID:      userID,
		Title:       title,
		ChatHistory: slices.Clone(messages),
		CreatedAt:   d.now(),
	}
	d.dialogs[dlg.ID] = dlg
	return dlg.Clone(), nil
}

func (d *dialogs) GetByID(_ context.Context, id int64) (*models.Dialog, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.dialogs[id].Clone(), nil
}

func (d *dialogs) ListByUser(_ context.Context, userID int64) ([]*models.Dialog, error) {
	d.mu.RLock()
	out := []*models.Dialog{}
	for _, dlg := range d.dialogs {
		if dlg.UserID == userID {
			out = append(out, dlg.Clone())
		}
	}
	d.mu.RUnlock()

	store.SortDialogs(out)
	return out, nil
}

func (d *dialogs) Save(_ context.Context, dlg *models.Dialog) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	existing, ok := d.dialogs[dlg.ID]
	if !ok {
		return fmt.Errorf("save dialog %d: %w", dlg.ID, store.ErrNotFound)
	}
	now := d.now()
	existing.Title = dlg.Title
	existing.ChatHistory = slices.Clone(dlg.ChatHistory)
	existing.UpdatedAt = &now
	dlg.UpdatedAt = &now
	return nil
}

func (d *dialogs) Delete(_ context.Context, id int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.dialogs, id)
	for fid, f := range d.findings {
		if f.DialogID == id {
			delete(d.findings, fid)
		}
	}
	return nil
}

// --- Findings ---

type findings Store

func (f *findings) Create(_ context.Context, nf models.NewFinding) (*models.Finding, error) {
	if err := nf.Validate(); err != nil {
		return nil, fmt.Errorf("create finding: %w", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	f.lastFindingID++
	out := nf.Build(f.now())
	out.ID = f.lastFindingID
	f.findings[out.ID] = out
	return out.Clone(), nil
}

func (f *findings) GetByID(_ context.Context, id int64) (*models.Finding, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.findings[id].Clone(), nil
}

func (f *findings) ListByDialog(_ context.Context, dialogID int64) ([]*models.Finding, error) {
	f.mu.RLock()
	out := []*models.Finding{}
	for _, fnd := range f.findings {
		if fnd.DialogID == dialogID {
			out = append(out, fnd.Clone())
		}
	}
	f.mu.RUnlock()

	store.SortFindings(out)
	return out, nil
}

func (f *findings) Update(_ context.Context, fnd *models.Finding) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	existing, ok := f.findings[fnd.ID]
	if !ok {
		return fmt.Errorf("update finding %d: %w", fnd.ID, store.ErrNotFound)
	}
	now := f.now()
	updated := fnd.Clone()
	updated.CreatedAt = existing.CreatedAt
	updated.UpdatedAt = &now
	f.findings[fnd.ID] = updated
	fnd.UpdatedAt = &now
	return nil
}

func (f *findings) Delete(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.findings, id)
	return nil
}

func (f *findings) MarkNonRelevant(_ context.Context, id int64) error {
	f.setMark(id, true)
	return nil
}

func (f *findings) MarkRelevant(_ context.Context, id int64) error {
	f.setMark(id, false)
	return nil
}

func (f *findings) setMark(id int64, mark bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if fnd, ok := f.findings[id]; ok {
		fnd.NonRelevanceMark = mark
	}
}

// --- Users ---

type users Store

func (u *users) Create(_ context.Context, profile models.UserProfile) (*models.User, error) {
	if profile.Email == "" {
		return nil, fmt.Errorf("create user: email is required")
	}
	u.mu.Lock()
	defer u.mu.Unlock()

	for _, existing := range u.users {
		if existing.Profile.Email == profile.Email {
			return existing.Clone(), nil
		}
	}

	u.lastUserID++
	now := u.now()
	usr := (&models.User{ID: u.lastUserID, Profile: profile}).Clone()
	usr.Profile.CreatedAt = &now
	usr.Profile.LastLoginAt = &now
	u.users[usr.ID] = usr
	return usr.Clone(), nil
}

func (u *users) GetByID(_ context.Context, id int64) (*models.User, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.users[id].Clone(), nil
}

func (u *users) GetByEmail(_ context.Context, email string) (*models.User, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	for _, usr := range u.users {
		if usr.Profile.Email == email {
			return usr.Clone(), nil
		}
	}
	return nil, nil
}

func (u *users) Save(_ context.Context, usr *models.User) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	existing, ok := u.users[usr.ID]
	if !ok {
		return fmt.Errorf("save user %d: %w", usr.ID, store.ErrNotFound)
	}
	updated := usr.Clone()
	updated.Profile.Email = existing.Profile.Email
	updated.Profile.CreatedAt = existing.Profile.CreatedAt
	u.users[usr.ID] = updated
	return nil
}
