package normalizer

import (
	"errors"
	"fmt"

	"hcharvest/internal/apiclient"
)

// Validation errors.
var (
	ErrMissingCollectionID = errors.New("collection missing id")
	ErrMissingSectionID    = errors.New("section missing id")
	ErrMissingArticleID    = errors.New("article missing id")
	ErrUnknownParentType   = errors.New("unknown article parent type")
)

// Validator rejects payloads the harvest cannot place.
type Validator struct{}

// NewValidator creates a new validator instance.
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateCollection checks a collection payload.
func (v *Validator) ValidateCollection(p apiclient.CollectionPayload) error {
	if p.ID == "" {
		return fmt.Errorf("%w (name %q)", ErrMissingCollectionID, p.Name)
	}

	return nil
}

// ValidateSection checks a section payload.
func (v *Validator) ValidateSection(p apiclient.SectionPayload) error {
	if p.ID == "" {
		return fmt.Errorf("%w (name %q)", ErrMissingSectionID, p.Name)
	}

	return nil
}

// ValidateArticle checks an article payload. Titles may be empty; the organizer
// names those files Untitled.
func (v *Validator) ValidateArticle(p apiclient.ArticlePayload) error {
	if p.ID == "" {
		return fmt.Errorf("%w (title %q)", ErrMissingArticleID, p.Title)
	}

	switch p.ParentType {
	case "", ParentCollection, ParentSection:
		return nil
	default:
		return fmt.Errorf("%w %q for article %s", ErrUnknownParentType, p.ParentType, p.ID)
	}
}
