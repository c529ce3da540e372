// Package storetest provides a compliance suite shared by every store backend.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/medresearch/internal/models"
	"github.com/raphaelgruber/medresearch/internal/store"
)

// Run exercises the store contract against an implementation.
// makeStore must return a store that is safe to share across the subtests.
func Run(t *testing.T, makeStore func(t *testing.T) store.Store) {
	t.Helper()

	s := makeStore(t)
	ctx := context.Background()

	newUser := func(t *testing.T) *models.User {
		t.Helper()
		u, err := s.Users().Create(ctx, models.UserProfile{Email: "u-" + uuid.NewString() + "@example.test"})
		require.NoError(t, err)
		require.NotNil(t, u)
		return u
	}

	newDialog := func(t *testing.T, userID int64) *models.Dialog {
		t.Helper()
		d, err := s.Dialogs().Create(ctx, userID, nil, "")
		require.NoError(t, err)
		return d
	}

	t.Run("users create is idempotent by email", func(t *testing.T) {
		email := "ada-" + uuid.NewString() + "@example.test"
		first, err := s.Users().Create(ctx, models.UserProfile{Email: email, Name: "Ada"})
		require.NoError(t, err)
		second, err := s.Users().Create(ctx, models.UserProfile{Email: email, Name: "Other"})
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, "Ada", second.Profile.Name)

		byEmail, err := s.Users().GetByEmail(ctx, email)
		require.NoError(t, err)
		require.NotNil(t, byEmail)
		assert.Equal(t, first.ID, byEmail.ID)
	})

	t.Run("users save updates profile", func(t *testing.T) {
		u := newUser(t)
		u.Profile.Name = "Grace"
		u.Profile.TrustedSites = []string{"statnews.com", "medscape.com"}
		require.NoError(t, s.Users().Save(ctx, u))

		got, err := s.Users().GetByID(ctx, u.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "Grace", got.Profile.Name)
		assert.Equal(t, []string{"statnews.com", "medscape.com"}, got.Profile.TrustedSites)
	})

	t.Run("users absent", func(t *testing.T) {
		got, err := s.Users().GetByEmail(ctx, "missing-"+uuid.NewString()+"@example.test")
		require.NoError(t, err)
		assert.Nil(t, got)

		err = s.Users().Save(ctx, &models.User{ID: 987654321, Profile: models.UserProfile{Email: "x@example.test"}})
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("dialog create applies default title", func(t *testing.T) {
		u := newUser(t)
		d := newDialog(t, u.ID)
		assert.NotZero(t, d.ID)
		assert.Equal(t, models.DefaultDialogTitle, d.Title)
		assert.Empty(t, d.ChatHistory)
		assert.Nil(t, d.UpdatedAt)

		titled, err := s.Dialogs().Create(ctx, u.ID, []models.ChatMessage{models.UserMessage("hi")}, "Metformin")
		require.NoError(t, err)
		assert.Equal(t, "Metformin", titled.Title)
		assert.Equal(t, []models.ChatMessage{models.UserMessage("hi")}, titled.ChatHistory)
	})

	t.Run("dialog ids are never reused", func(t *testing.T) {
		u := newUser(t)
		seen := map[int64]bool{}
		var last int64
		for i := 0; i < 5; i++ {
			d := newDialog(t, u.ID)
			assert.False(t, seen[d.ID], "id %d reused", d.ID)
			assert.Greater(t, d.ID, last)
			seen[d.ID] = true
			last = d.ID
			require.NoError(t, s.Dialogs().Delete(ctx, d.ID))
		}
		assert.Len(t, seen, 5)
	})

	t.Run("dialog save round trip", func(t *testing.T) {
		u := newUser(t)
		d := newDialog(t, u.ID)
		d.Append(models.UserMessage("What is metformin?"), models.AssistantMessage("A biguanide."))
		d.Title = "Metformin basics"
		require.NoError(t, s.Dialogs().Save(ctx, d))

		got, err := s.Dialogs().GetByID(ctx, d.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "Metformin basics", got.Title)
		assert.Equal(t, d.ChatHistory, got.ChatHistory)
		assert.Equal(t, u.ID, got.UserID)
		assert.NotNil(t, got.UpdatedAt)
	})

	t.Run("dialog save never creates", func(t *testing.T) {
		err := s.Dialogs().Save(ctx, &models.Dialog{ID: 987654321, Title: "ghost"})
		assert.ErrorIs(t, err, store.ErrNotFound)

		got, err := s.Dialogs().GetByID(ctx, 987654321)
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("dialog list orders by last update", func(t *testing.T) {
		u := newUser(t)
		other := newUser(t)
		d1 := newDialog(t, u.ID)
		d2 := newDialog(t, u.ID)
		d3 := newDialog(t, u.ID)
		newDialog(t, other.ID)

		require.NoError(t, s.Dialogs().Save(ctx, d1))
		time.Sleep(10 * time.Millisecond)
		require.NoError(t, s.Dialogs().Save(ctx, d3))

		list, err := s.Dialogs().ListByUser(ctx, u.ID)
		require.NoError(t, err)
		require.Len(t, list, 3)
		assert.Equal(t, []int64{d3.ID, d1.ID, d2.ID}, []int64{list[0].ID, list[1].ID, list[2].ID})
	})

	t.Run("dialog delete is idempotent and removes findings", func(t *testing.T) {
		u := newUser(t)
		d := newDialog(t, u.ID)
		f, err := s.Findings().Create(ctx, models.NewFinding{DialogID: d.ID, Title: "Study A"})
		require.NoError(t, err)

		require.NoError(t, s.Dialogs().Delete(ctx, d.ID))
		require.NoError(t, s.Dialogs().Delete(ctx, d.ID))

		got, err := s.Dialogs().GetByID(ctx, d.ID)
		require.NoError(t, err)
		assert.Nil(t, got)

		gotFinding, err := s.Findings().GetByID(ctx, f.ID)
		require.NoError(t, err)
		assert.Nil(t, gotFinding)
	})

	t.Run("finding create defaults", func(t *testing.T) {
		u := newUser(t)
		d := newDialog(t, u.ID)
		f, err := s.Findings().Create(ctx, models.NewFinding{
			DialogID:        d.ID,
			Title:           "Semaglutide reduces MACE",
			Source:          "StatNews",
			RelevanceReason: "Phase 3 trial",
			Citations:       42,
			Websites:        2,
			NewsLinks:       []models.Link{{Title: "StatNews", URL: "https://statnews.com/a"}},
			PaperLinks:      []models.Link{{Title: "NEJM", URL: "https://doi.org/1"}, {Title: "Lancet", URL: "https://doi.org/2"}},
		})
		require.NoError(t, err)
		assert.NotZero(t, f.ID)
		assert.Equal(t, models.FindingStatusNew, f.Status)
		assert.False(t, f.NonRelevanceMark)

		got, err := s.Findings().GetByID(ctx, f.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, f.Title, got.Title)
		assert.Equal(t, 42, got.Citations)
		assert.Equal(t, f.PaperLinks, got.PaperLinks)
		assert.Equal(t, "NEJM", got.PaperLinks[0].Title)
	})

	t.Run("finding create does not deduplicate", func(t *testing.T) {
		u := newUser(t)
		d := newDialog(t, u.ID)
		nf := models.NewFinding{DialogID: d.ID, Title: "Same"}
		a, err := s.Findings().Create(ctx, nf)
		require.NoError(t, err)
		b, err := s.Findings().Create(ctx, nf)
		require.NoError(t, err)
		assert.NotEqual(t, a.ID, b.ID)
	})

	t.Run("finding list is newest first", func(t *testing.T) {
		u := newUser(t)
		d := newDialog(t, u.ID)
		other := newDialog(t, u.ID)
		var ids []int64
		for _, title := range []string{"first", "second", "third"} {
			f, err := s.Findings().Create(ctx, models.NewFinding{DialogID: d.ID, Title: title})
			require.NoError(t, err)
			ids = append(ids, f.ID)
			time.Sleep(2 * time.Millisecond)
		}
		_, err := s.Findings().Create(ctx, models.NewFinding{DialogID: other.ID, Title: "elsewhere"})
		require.NoError(t, err)

		list, err := s.Findings().ListByDialog(ctx, d.ID)
		require.NoError(t, err)
		require.Len(t, list, 3)
		assert.Equal(t, []int64{ids[2], ids[1], ids[0]}, []int64{list[0].ID, list[1].ID, list[2].ID})
	})

	t.Run("finding relevance toggles", func(t *testing.T) {
		u := newUser(t)
		d := newDialog(t, u.ID)
		f, err := s.Findings().Create(ctx, models.NewFinding{
			DialogID:        d.ID,
			Title:           "Study B",
			RelevanceReason: "sample size too small",
			NewsLinks:       []models.Link{{Title: "CNN", URL: "https://cnn.com/x"}},
		})
		require.NoError(t, err)

		require.NoError(t, s.Findings().MarkNonRelevant(ctx, f.ID))
		once, err := s.Findings().GetByID(ctx, f.ID)
		require.NoError(t, err)
		require.NoError(t, s.Findings().MarkNonRelevant(ctx, f.ID))
		twice, err := s.Findings().GetByID(ctx, f.ID)
		require.NoError(t, err)
		assert.True(t, once.NonRelevanceMark)
		assert.Equal(t, once, twice)

		require.NoError(t, s.Findings().MarkRelevant(ctx, f.ID))
		restored, err := s.Findings().GetByID(ctx, f.ID)
		require.NoError(t, err)
		assert.False(t, restored.NonRelevanceMark)
		assert.Equal(t, f.Title, restored.Title)
		assert.Equal(t, f.RelevanceReason, restored.RelevanceReason)
		assert.Equal(t, f.NewsLinks, restored.NewsLinks)
		assert.Equal(t, f.Status, restored.Status)
	})

	t.Run("finding absent ids", func(t *testing.T) {
		got, err := s.Findings().GetByID(ctx, 987654321)
		require.NoError(t, err)
		assert.Nil(t, got)

		assert.NoError(t, s.Findings().MarkNonRelevant(ctx, 987654321))
		assert.NoError(t, s.Findings().MarkRelevant(ctx, 987654321))
		assert.NoError(t, s.Findings().Delete(ctx, 987654321))

		err = s.Findings().Update(ctx, &models.Finding{ID: 987654321, Title: "ghost"})
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("finding update replaces record", func(t *testing.T) {
		u := newUser(t)
		d := newDialog(t, u.ID)
		f, err := s.Findings().Create(ctx, models.NewFinding{DialogID: d.ID, Title: "Draft"})
		require.NoError(t, err)

		f.Title = "Final"
		f.Status = models.FindingStatusDismissed
		f.PaperLinks = []models.Link{{Title: "BMJ", URL: "https://bmj.com/p"}}
		require.NoError(t, s.Findings().Update(ctx, f))

		got, err := s.Findings().GetByID(ctx, f.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "Final", got.Title)
		assert.Equal(t, models.FindingStatusDismissed, got.Status)
		assert.Equal(t, f.PaperLinks, got.PaperLinks)
		assert.NotNil(t, got.UpdatedAt)
	})
}
