package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/raphaelgruber/medresearch/internal/models"
	"github.com/raphaelgruber/medresearch/internal/store"
)

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func now() time.Time {
	return time.Now().UTC()
}

func encodeJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func nullTimePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

func ensureAffected(res sql.Result, op string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s %d: rows affected: %w", op, id, err)
	}
	if n == 0 {
		return fmt.Errorf("%s %d: %w", op, id, store.ErrNotFound)
	}
	return nil
}

// --- Dialogs ---

type dialogs struct{ s *Store }

const dialogColumns = `id, user_id, title, chat_history, created_at, updated_at`

func scanDialog(row scanner) (*models.Dialog, error) {
	var (
		d       models.Dialog
		history []byte
		updated sql.NullTime
	)
	if err := row.Scan(&d.ID, &d.UserID, &d.Title, &history, &d.CreatedAt, &updated); err != nil {
		return nil, err
	}
	d.UpdatedAt = nullTimePtr(updated)
	d.ChatHistory = []models.ChatMessage{}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &d.ChatHistory); err != nil {
			return nil, fmt.Errorf("decode chat history: %w", err)
		}
	}
	return &d, nil
}

func (r *dialogs) Create(ctx context.Context, userID int64, messages []models.ChatMessage, title string) (*models.Dialog, error) {
	if title == "" {
		title = models.DefaultDialogTitle
	}
	if messages == nil {
		messages = []models.ChatMessage{}
	}
	history, err := encodeJSON(messages)
	if err != nil {
		return nil, fmt.Errorf("encode chat history: %w", err)
	}

	row := r.s.queryRow(ctx, `
		INSERT INTO dialogs (user_id, title, chat_history, created_at)
		VALUES (?, ?, ?, ?)
		RETURNING `+dialogColumns, userID, title, history, now())
	d, err := scanDialog(row)
	if err != nil {
		return nil, fmt.Errorf("create dialog: %w", err)
	}
	return d, nil
}

func (r *dialogs) GetByID(ctx context.Context, id int64) (*models.Dialog, error) {
	d, err := scanDialog(r.s.queryRow(ctx, `SELECT `+dialogColumns+` FROM dialogs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get dialog: %w", err)
	}
	return d, nil
}

func (r *dialogs) ListByUser(ctx context.Context, userID int64) ([]*models.Dialog, error) {
	rows, err := r.s.query(ctx, `
		SELECT `+dialogColumns+` FROM dialogs
		WHERE user_id = ?
		ORDER BY updated_at DESC NULLS LAST, id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list dialogs: %w", err)
	}
	defer rows.Close()

	out := []*models.Dialog{}
	for rows.Next() {
		d, err := scanDialog(rows)
		if err != nil {
			return nil, fmt.Errorf("list dialogs: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list dialogs: %w", err)
	}
	return out, nil
}

func (r *dialogs) Save(ctx context.Context, d *models.Dialog) error {
	history, err := encodeJSON(d.ChatHistory)
	if err != nil {
		return fmt.Errorf("encode chat history: %w", err)
	}
	ts := now()
	res, err := r.s.exec(ctx, `
		UPDATE dialogs SET title = ?, chat_history = ?, updated_at = ?
		WHERE id = ?`, d.Title, history, ts, d.ID)
	if err != nil {
		return fmt.Errorf("save dialog: %w", err)
	}
	if err := ensureAffected(res, "save dialog", d.ID); err != nil {
		return err
	}
	d.UpdatedAt = &ts
	return nil
}

func (r *dialogs) Delete(ctx context.Context, id int64) error {
	tx, err := r.s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete dialog: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, r.s.rebind(`DELETE FROM findings WHERE dialog_id = ?`), id); err != nil {
		return fmt.Errorf("delete dialog findings: %w", err)
	}
	if _, err := tx.ExecContext(ctx, r.s.rebind(`DELETE FROM dialogs WHERE id = ?`), id); err != nil {
		return fmt.Errorf("delete dialog: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("delete dialog: commit: %w", err)
	}
	return nil
}

// --- Findings ---

type findings struct{ s *Store }

const findingColumns = `id, dialog_id, title, source, relevance_reason, citations, websites,
	status, non_relevance_mark, news_links, paper_links, created_at, updated_at`

func scanFinding(row scanner) (*models.Finding, error) {
	var (
		f           models.Finding
		status      string
		news, paper []byte
		updated     sql.NullTime
	)
	if err := row.Scan(&f.ID, &f.DialogID, &f.Title, &f.Source, &f.RelevanceReason,
		&f.Citations, &f.Websites, &status, &f.NonRelevanceMark, &news, &paper,
		&f.CreatedAt, &updated); err != nil {
		return nil, err
	}
	f.Status = models.FindingStatus(status)
	f.UpdatedAt = nullTimePtr(updated)
	f.NewsLinks = []models.Link{}
	f.PaperLinks = []models.Link{}
	if err := json.Unmarshal(news, &f.NewsLinks); err != nil {
		return nil, fmt.Errorf("decode news links: %w", err)
	}
	if err := json.Unmarshal(paper, &f.PaperLinks); err != nil {
		return nil, fmt.Errorf("decode paper links: %w", err)
	}
	return &f, nil
}

func encodeLinks(f *models.Finding) (news, paper string, err error) {
	if news, err = encodeJSON(nonNilLinks(f.NewsLinks)); err != nil {
		return "", "", fmt.Errorf("encode news links: %w", err)
	}
	if paper, err = encodeJSON(nonNilLinks(f.PaperLinks)); err != nil {
		return "", "", fmt.Errorf("encode paper links: %w", err)
	}
	return news, paper, nil
}

func nonNilLinks(l []models.Link) []models.Link {
	if l == nil {
		return []models.Link{}
	}
	return l
}

func (r *findings) Create(ctx context.Context, nf models.NewFinding) (*models.Finding, error) {
	if err := nf.Validate(); err != nil {
		return nil, fmt.Errorf("create finding: %w", err)
	}
	f := nf.Build(now())
	news, paper, err := encodeLinks(f)
	if err != nil {
		return nil, err
	}

	row := r.s.queryRow(ctx, `
		INSERT INTO findings (dialog_id, title, source, relevance_reason, citations, websites,
			status, non_relevance_mark, news_links, paper_links, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING `+findingColumns,
		f.DialogID, f.Title, f.Source, f.RelevanceReason, f.Citations, f.Websites,
		string(f.Status), f.NonRelevanceMark, news, paper, f.CreatedAt)
	out, err := scanFinding(row)
	if err != nil {
		return nil, fmt.Errorf("create finding: %w", err)
	}
	return out, nil
}

func (r *findings) GetByID(ctx context.Context, id int64) (*models.Finding, error) {
	f, err := scanFinding(r.s.queryRow(ctx, `SELECT `+findingColumns+` FROM findings WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get finding: %w", err)
	}
	return f, nil
}

func (r *findings) ListByDialog(ctx context.Context, dialogID int64) ([]*models.Finding, error) {
	rows, err := r.s.query(ctx, `
		SELECT `+findingColumns+` FROM findings
		WHERE dialog_id = ?
		ORDER BY created_at DESC, id DESC`, dialogID)
	if err != nil {
		return nil, fmt.Errorf("list findings: %w", err)
	}
	defer rows.Close()

	out := []*models.Finding{}
	for rows.Next() {
		f, err := scanFinding(rows)
		if err != nil {
			return nil, fmt.Errorf("list findings: %w", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list findings: %w", err)
	}
	return out, nil
}

func (r *findings) Update(ctx context.Context, f *models.Finding) error {
	news, paper, err := encodeLinks(f)
	if err != nil {
		return err
	}
	ts := now()
	res, err := r.s.exec(ctx, `
		UPDATE findings SET dialog_id = ?, title = ?, source = ?, relevance_reason = ?,
			citations = ?, websites = ?, status = ?, non_relevance_mark = ?,
			news_links = ?, paper_links = ?, updated_at = ?
		WHERE id = ?`,
		f.DialogID, f.Title, f.Source, f.RelevanceReason, f.Citations, f.Websites,
		string(f.Status), f.NonRelevanceMark, news, paper, ts, f.ID)
	if err != nil {
		return fmt.Errorf("update finding: %w", err)
	}
	if err := ensureAffected(res, "update finding", f.ID); err != nil {
		return err
	}
	f.UpdatedAt = &ts
	return nil
}

func (r *findings) Delete(ctx context.Context, id int64) error {
	if _, err := r.s.exec(ctx, `DELETE FROM findings WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete finding: %w", err)
	}
	return nil
}

func (r *findings) MarkNonRelevant(ctx context.Context, id int64) error {
	return r.setMark(ctx, id, true)
}

func (r *findings) MarkRelevant(ctx context.Context, id int64) error {
	return r.setMark(ctx, id, false)
}

// setMark flips only the flag; absent ids match no rows.
func (r *findings) setMark(ctx context.Context, id int64, mark bool) error {
	if _, err := r.s.exec(ctx, `UPDATE findings SET non_relevance_mark = ? WHERE id = ?`, mark, id); err != nil {
		return fmt.Errorf("mark finding: %w", err)
	}
	return nil
}

// --- Users ---

type users struct{ s *Store }

const userColumns = `id, email, name, picture, trusted_sites, created_at, last_login_at`

func scanUser(row scanner) (*models.User, error) {
	var (
		u         models.User
		sites     []byte
		created   time.Time
		lastLogin sql.NullTime
	)
	if err := row.Scan(&u.ID, &u.Profile.Email, &u.Profile.Name, &u.Profile.Picture, &sites, &created, &lastLogin); err != nil {
		return nil, err
	}
	u.Profile.CreatedAt = &created
	u.Profile.LastLoginAt = nullTimePtr(lastLogin)
	u.Profile.TrustedSites = []string{}
	if err := json.Unmarshal(sites, &u.Profile.TrustedSites); err != nil {
		return nil, fmt.Errorf("decode trusted sites: %w", err)
	}
	return &u, nil
}

func (r *users) Create(ctx context.Context, profile models.UserProfile) (*models.User, error) {
	if profile.Email == "" {
		return nil, fmt.Errorf("create user: email is required")
	}
	existing, err := r.GetByEmail(ctx, profile.Email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	sites, err := encodeJSON(nonNilStrings(profile.TrustedSites))
	if err != nil {
		return nil, fmt.Errorf("encode trusted sites: %w", err)
	}
	ts := now()
	u, err := scanUser(r.s.queryRow(ctx, `
		INSERT INTO users (email, name, picture, trusted_sites, created_at, last_login_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (email) DO NOTHING
		RETURNING `+userColumns,
		profile.Email, profile.Name, profile.Picture, sites, ts, ts))
	if errors.Is(err, sql.ErrNoRows) {
		// lost a race with a concurrent insert of the same email
		return r.GetByEmail(ctx, profile.Email)
	}
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

func (r *users) GetByID(ctx context.Context, id int64) (*models.User, error) {
	return r.get(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
}

func (r *users) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.get(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email)
}

func (r *users) get(ctx context.Context, query string, arg any) (*models.User, error) {
	u, err := scanUser(r.s.queryRow(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (r *users) Save(ctx context.Context, u *models.User) error {
	sites, err := encodeJSON(nonNilStrings(u.Profile.TrustedSites))
	if err != nil {
		return fmt.Errorf("encode trusted sites: %w", err)
	}
	var lastLogin any
	if u.Profile.LastLoginAt != nil {
		lastLogin = u.Profile.LastLoginAt.UTC()
	}
	res, err := r.s.exec(ctx, `
		UPDATE users SET name = ?, picture = ?, trusted_sites = ?, last_login_at = ?
		WHERE id = ?`, u.Profile.Name, u.Profile.Picture, sites, lastLogin, u.ID)
	if err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	return ensureAffected(res, "save user", u.ID)
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
