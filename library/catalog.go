package library

import (
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var validate = validator.New()

// BookFields is the input for adding a book to the catalog.
type BookFields struct {
	Title         string `json:"title" validate:"required"`
	Author        string `json:"author" validate:"required"`
	ISBN          string `json:"isbn" validate:"required"`
	Category      string `json:"category" validate:"required"`
	PublishedYear int    `json:"published_year"`
	Description   string `json:"description"`
	CoverURL      string `json:"cover_url"`
}

// BookUpdate is the input for editing catalog metadata. Nil fields keep
// their current value; the id, the ISBN and the availability flag are
// immutable through this path.
type BookUpdate struct {
	Title         *string `validate:"omitempty,min=1"`
	Author        *string `validate:"omitempty,min=1"`
	Category      *string `validate:"omitempty,min=1"`
	PublishedYear *int
	Description   *string
	CoverURL      *string
}

// CatalogStore owns all Book records. It hands out deep-copied snapshots in
// insertion order; availability writes are reserved for the lending service.
type CatalogStore struct {
	mu    sync.RWMutex
	books map[string]*Book
	order []string
	isbns map[string]string // ISBN -> book id
}

// NewCatalogStore creates an empty catalog.
func NewCatalogStore() *CatalogStore {
	return &CatalogStore{
		books: make(map[string]*Book),
		isbns: make(map[string]string),
	}
}

// AddBook validates the fields and creates an available book with a fresh id.
func (c *CatalogStore) AddBook(fields BookFields) (Book, error) {
	if err := validate.Struct(fields); err != nil {
		return Book{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if other, ok := c.isbns[fields.ISBN]; ok {
		return Book{}, fmt.Errorf("%w: ISBN %s already registered for book %s", ErrValidation, fields.ISBN, other)
	}

	b := &Book{
		ID:            uuid.NewString(),
		Title:         fields.Title,
		Author:        fields.Author,
		ISBN:          fields.ISBN,
		Category:      fields.Category,
		PublishedYear: fields.PublishedYear,
		Description:   fields.Description,
		CoverURL:      fields.CoverURL,
		Available:     true,
	}
	c.books[b.ID] = b
	c.order = append(c.order, b.ID)
	c.isbns[b.ISBN] = b.ID
	return *b, nil
}

// GetBook returns a copy of the book.
func (c *CatalogStore) GetBook(id string) (Book, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	b, ok := c.books[id]
	if !ok {
		return Book{}, fmt.Errorf("%w: book %s", ErrNotFound, id)
	}
	return *b, nil
}

// UpdateBook applies the set fields of the update. Availability and ISBN
// are untouched.
func (c *CatalogStore) UpdateBook(id string, upd BookUpdate) (Book, error) {
	if err := validate.Struct(upd); err != nil {
		return Book{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	b, ok := c.books[id]
	if !ok {
		return Book{}, fmt.Errorf("%w: book %s", ErrNotFound, id)
	}
	if upd.Title != nil {
		b.Title = *upd.Title
	}
	if upd.Author != nil {
		b.Author = *upd.Author
	}
	if upd.Category != nil {
		b.Category = *upd.Category
	}
	if upd.PublishedYear != nil {
		b.PublishedYear = *upd.PublishedYear
	}
	if upd.Description != nil {
		b.Description = *upd.Description
	}
	if upd.CoverURL != nil {
		b.CoverURL = *upd.CoverURL
	}
	return *b, nil
}

// ListBooks returns the full catalog snapshot in insertion order.
func (c *CatalogStore) ListBooks() []Book {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Book, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, *c.books[id])
	}
	return out
}

// Len reports how many books the catalog holds.
func (c *CatalogStore) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.books)
}

// setAvailability flips the derived flag. Only the lending service calls
// this, inside its per-book critical section.
func (c *CatalogStore) setAvailability(id string, available bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	b, ok := c.books[id]
	if !ok {
		return fmt.Errorf("%w: book %s", ErrNotFound, id)
	}
	b.Available = available
	return nil
}

// restoreBook reinstates a persisted book verbatim, keeping its id and
// availability. Used when loading state from the store.
func (c *CatalogStore) restoreBook(b Book) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cp := b
	c.books[b.ID] = &cp
	c.order = append(c.order, b.ID)
	c.isbns[b.ISBN] = b.ID
}
