// Package models defines data structures for the medical research assistant.
package models

import (
	"errors"
	"slices"
	"time"
)

// FindingStatus is the lifecycle state of a finding. The set is open.
type FindingStatus string

const (
	FindingStatusNew       FindingStatus = "new"
	FindingStatusDismissed FindingStatus = "dismissed"
)

// Link is a labeled URL embedded in a finding.
type Link struct {
	Title string `json:"title" yaml:"title"`
	URL   string `json:"url" yaml:"url"`
}

// Finding is one piece of research evidence tied to a dialog.
type Finding struct {
	ID               int64         `json:"id" yaml:"id"`
	DialogID         int64         `json:"dialog_id" yaml:"dialog_id"`
	Title            string        `json:"title" yaml:"title"`
	Source           string        `json:"source" yaml:"source"`
	RelevanceReason  string        `json:"relevance_reason" yaml:"relevance_reason"`
	Citations        int           `json:"citations" yaml:"citations"`
	Websites         int           `json:"websites" yaml:"websites"`
	Status           FindingStatus `json:"status" yaml:"status"`
	NonRelevanceMark bool          `json:"non_relevance_mark" yaml:"non_relevance_mark"`
	NewsLinks        []Link        `json:"news_links" yaml:"news_links"`
	PaperLinks       []Link        `json:"paper_links" yaml:"paper_links"`
	CreatedAt        time.Time     `json:"created_at" yaml:"created_at"`
	UpdatedAt        *time.Time    `json:"updated_at,omitempty" yaml:"updated_at,omitempty"`
}

// Clone returns a deep copy of the finding.
func (f *Finding) Clone() *Finding {
	if f == nil {
		return nil
	}
	out := *f
	out.NewsLinks = cloneLinks(f.NewsLinks)
	out.PaperLinks = cloneLinks(f.PaperLinks)
	if f.UpdatedAt != nil {
		t := *f.UpdatedAt
		out.UpdatedAt = &t
	}
	return &out
}

// NewFinding holds the parameters for creating a finding.
type NewFinding struct {
	DialogID        int64
	Title           string
	Source          string
	RelevanceReason string
	Citations       int
	Websites        int
	NewsLinks       []Link
	PaperLinks      []Link
}

// Validate checks the create parameters.
func (n NewFinding) Validate() error {
	var errs []error
	if n.DialogID == 0 {
		errs = append(errs, errors.New("dialog id is required"))
	}
	if n.Title == "" {
		errs = append(errs, errors.New("title is required"))
	}
	if n.Citations < 0 {
		errs = append(errs, errors.New("citations must be non-negative"))
	}
	if n.Websites < 0 {
		errs = append(errs, errors.New("websites must be non-negative"))
	}
	return errors.Join(errs...)
}

// Build turns the create parameters into a finding with default lifecycle fields.
// The caller assigns ID.
func (n NewFinding) Build(now time.Time) *Finding {
	return &Finding{
		DialogID:        n.DialogID,
		Title:           n.Title,
		Source:          n.Source,
		RelevanceReason: n.RelevanceReason,
		Citations:       n.Citations,
		Websites:        n.Websites,
		Status:          FindingStatusNew,
		NewsLinks:       cloneLinks(n.NewsLinks),
		PaperLinks:      cloneLinks(n.PaperLinks),
		CreatedAt:       now,
	}
}

func cloneLinks(links []Link) []Link {
	if links == nil {
		return []Link{}
	}
	return slices.Clone(links)
}
