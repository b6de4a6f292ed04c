// Package prompt manages the prompt templates conversations are framed with.
// Templates live in the store; this package adds lookup semantics and the
// error the chat layer keys on when a template id is bogus.
package prompt

import (
	"context"
	"errors"
	"fmt"

	"github.com/ragbot0/ragbot/internal/store"
)

// ErrTemplateNotFound is returned when a requested template does not exist.
var ErrTemplateNotFound = errors.New("prompt: template not found")

// Manager resolves and maintains prompt templates.
type Manager struct {
	store *store.Store
}

// NewManager wraps the persistence store.
func NewManager(s *store.Store) *Manager {
	return &Manager{store: s}
}

// Get returns the template with the given id, or ErrTemplateNotFound.
func (m *Manager) Get(ctx context.Context, id int64) (*store.Template, error) {
	t, err := m.store.GetTemplate(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: id %d", ErrTemplateNotFound, id)
	}
	return t, err
}

// GetByName returns the template with the given name, or ErrTemplateNotFound.
func (m *Manager) GetByName(ctx context.Context, name string) (*store.Template, error) {
	t, err := m.store.GetTemplateByName(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: name %q", ErrTemplateNotFound, name)
	}
	return t, err
}

// Default returns the template new sessions start with: the one named
// "default", falling back to the lowest-id template if it was renamed.
func (m *Manager) Default(ctx context.Context) (*store.Template, error) {
	t, err := m.store.GetTemplateByName(ctx, "default")
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	all, err := m.store.ListTemplates(ctx)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, ErrTemplateNotFound
	}
	return &all[0], nil
}

// Create stores a new template and returns its id.
func (m *Manager) Create(ctx context.Context, name, description, systemPrompt string) (int64, error) {
	return m.store.CreateTemplate(ctx, name, description, systemPrompt)
}

// Update replaces a template, or returns ErrTemplateNotFound.
func (m *Manager) Update(ctx context.Context, id int64, name, description, systemPrompt string) error {
	err := m.store.UpdateTemplate(ctx, id, name, description, systemPrompt)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: id %d", ErrTemplateNotFound, id)
	}
	return err
}

// Delete removes a template, reporting whether it existed.
func (m *Manager) Delete(ctx context.Context, id int64) (bool, error) {
	return m.store.DeleteTemplate(ctx, id)
}

// List returns all templates in id order.
func (m *Manager) List(ctx context.Context) ([]store.Template, error) {
	return m.store.ListTemplates(ctx)
}
