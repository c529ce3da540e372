package store

import (
	"cmp"
	"slices"

	"github.com/raphaelgruber/medresearch/internal/models"
)

// SortDialogs orders dialogs most recently updated first. Dialogs that were
// never updated go last; ties break on id, newest first.
func SortDialogs(ds []*models.Dialog) {
	slices.SortFunc(ds, func(a, b *models.Dialog) int {
		switch {
		case a.UpdatedAt == nil && b.UpdatedAt != nil:
			return 1
		case a.UpdatedAt != nil && b.UpdatedAt == nil:
			return -1
		case a.UpdatedAt != nil && b.UpdatedAt != nil:
			if c := b.UpdatedAt.Compare(*a.UpdatedAt); c != 0 {
				return c
			}
		}
		return cmp.Compare(b.ID, a.ID)
	})
}

// SortFindings orders findings newest first. Ids are allocated in creation
// order, so id descending is creation time descending.
func SortFindings(fs []*models.Finding) {
	slices.SortFunc(fs, func(a, b *models.Finding) int {
		return cmp.Compare(b.ID, a.ID)
	})
}
