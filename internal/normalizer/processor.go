// Package normalizer turns API payloads into the domain model and resolves the
// collection and section each article belongs to.
package normalizer

import (
	"fmt"

	"hcharvest/internal/apiclient"
	"hcharvest/internal/models"
)

// UnfiledCollection names the directory for articles without a collection.
const UnfiledCollection = "General"

// Processor validates and transforms payloads, remembering the collections and
// sections seen so that articles can be attached to them.
type Processor struct {
	validator   *Validator
	transformer *Transformer
	collections map[string]models.Collection
	sections    map[string]models.Section
}

// NewProcessor creates a new processor instance.
func NewProcessor() *Processor {
	return &Processor{
		validator:   NewValidator(),
		transformer: NewTransformer(),
		collections: make(map[string]models.Collection),
		sections:    make(map[string]models.Section),
	}
}

// AddCollection registers a collection.
func (p *Processor) AddCollection(payload apiclient.CollectionPayload) (models.Collection, error) {
	if err := p.validator.ValidateCollection(payload); err != nil {
		return models.Collection{}, fmt.Errorf("validation failed: %w", err)
	}

	c := p.transformer.Collection(payload)
	p.collections[c.ID] = c

	return c, nil
}

// AddSection registers a section listed under collectionID.
func (p *Processor) AddSection(payload apiclient.SectionPayload, collectionID string) (models.Section, error) {
	if err := p.validator.ValidateSection(payload); err != nil {
		return models.Section{}, fmt.Errorf("validation failed: %w", err)
	}

	s := p.transformer.Section(payload, collectionID)
	p.sections[s.ID] = s

	return s, nil
}

// Article maps an article and attaches it to its section and collection. A parent
// id that names a known section is treated as a section whatever parent_type says,
// since nested collections are listed as sections.
func (p *Processor) Article(payload apiclient.ArticlePayload) (models.Article, error) {
	if err := p.validator.ValidateArticle(payload); err != nil {
		return models.Article{}, fmt.Errorf("validation failed: %w", err)
	}

	a := p.transformer.Article(payload)
	parent := payload.ParentID.String()

	if parent == "" {
		return a, nil
	}

	if s, ok := p.sections[parent]; ok {
		a.SectionID = s.ID
		a.CollectionID = s.CollectionID

		return a, nil
	}

	if _, ok := p.collections[parent]; ok || payload.ParentType == ParentCollection {
		a.CollectionID = parent
	}

	return a, nil
}

// CollectionName returns the display name for an article's collection.
func (p *Processor) CollectionName(a models.Article) string {
	if c, ok := p.collections[a.CollectionID]; ok && c.Name != "" {
		return c.Name
	}

	return UnfiledCollection
}

// SectionName returns the display name of an article's section, or nil.
func (p *Processor) SectionName(a models.Article) *string {
	if !a.HasSection() {
		return nil
	}

	s, ok := p.sections[a.SectionID]
	if !ok || s.Name == "" {
		return nil
	}

	name := s.Name

	return &name
}
