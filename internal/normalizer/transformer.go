package normalizer

import (
	"strings"
	"time"

	"hcharvest/internal/apiclient"
	"hcharvest/internal/models"
)

// Parent types an article may reference.
const (
	ParentCollection = "collection"
	ParentSection    = "section"
)

// Transformer maps API payloads onto the domain model.
type Transformer struct{}

// NewTransformer creates a new transformer instance.
func NewTransformer() *Transformer {
	return &Transformer{}
}

// Collection maps a collection payload.
func (t *Transformer) Collection(p apiclient.CollectionPayload) models.Collection {
	return models.Collection{
		ID:       p.ID.String(),
		Name:     strings.TrimSpace(p.Name),
		ParentID: p.ParentID.String(),
		URL:      p.URL,
	}
}

// Section maps a section payload onto the collection it was listed under.
func (t *Transformer) Section(p apiclient.SectionPayload, collectionID string) models.Section {
	return models.Section{
		ID:           p.ID.String(),
		Name:         strings.TrimSpace(p.Name),
		CollectionID: collectionID,
	}
}

// Article maps an article payload. Parent references are resolved by the caller.
func (t *Transformer) Article(p apiclient.ArticlePayload) models.Article {
	a := models.Article{
		ID:        p.ID.String(),
		Title:     strings.TrimSpace(p.Title),
		BodyHTML:  p.Body,
		SourceURL: p.URL,
		State:     p.State,
	}

	if p.UpdatedAt > 0 {
		a.UpdatedAt = time.Unix(int64(p.UpdatedAt), 0).UTC()
	}

	return a
}
