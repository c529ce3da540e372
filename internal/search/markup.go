package search

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// StripMarkup removes HTML/JATS tags that some publishers leave in abstracts
// and collapses whitespace.
func StripMarkup(s string) string {
	if strings.ContainsRune(s, '<') {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(s)); err == nil {
			s = doc.Text()
		}
	}
	return strings.Join(strings.Fields(s), " ")
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func joinAuthors(names []string, total int) string {
	out := strings.Join(names, ", ")
	if total > 3 {
		out += " et al."
	}
	return out
}
