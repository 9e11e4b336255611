package cache

import (
	"context"
	"fmt"
	"time"

	"splitledger/internal/backend"
	"splitledger/internal/core"
)

const (
	usersKey          = "users"
	categoryKeyFormat = "categories:%d"
)

// Directory caches the reference data every session open needs: the
// eligible users and the three category level lists. Category creation
// writes through and invalidates the affected level.
type Directory struct {
	categories backend.CategoryDirectory
	users      backend.UserDirectory

	categoryCache *LRUCache[[]string]
	userCache     *LRUCache[[]core.User]
}

var (
	_ backend.CategoryDirectory = (*Directory)(nil)
	_ backend.UserDirectory     = (*Directory)(nil)
)

// NewDirectory wraps the collaborator ports with TTL caches.
func NewDirectory(categories backend.CategoryDirectory, users backend.UserDirectory, ttl time.Duration) *Directory {
	return &Directory{
		categories:    categories,
		users:         users,
		categoryCache: NewLRUCache[[]string](8, ttl),
		userCache:     NewLRUCache[[]core.User](1, ttl),
	}
}

// Register adds the directory's caches to a cleanup manager.
func (d *Directory) Register(m *Manager) {
	m.Register(d.categoryCache)
	m.Register(d.userCache)
}

// ListCategories implements backend.CategoryDirectory
func (d *Directory) ListCategories(ctx context.Context, level int) ([]string, error) {
	key := fmt.Sprintf(categoryKeyFormat, level)
	if names, ok := d.categoryCache.Get(key); ok {
		return append([]string(nil), names...), nil
	}
	names, err := d.categories.ListCategories(ctx, level)
	if err != nil {
		return nil, err
	}
	d.categoryCache.Set(key, names)
	return append([]string(nil), names...), nil
}

// CreateCategory implements backend.CategoryDirectory, invalidating the
// level's cached list on success.
func (d *Directory) CreateCategory(ctx context.Context, name string, level int) error {
	if err := d.categories.CreateCategory(ctx, name, level); err != nil {
		return err
	}
	d.categoryCache.Delete(fmt.Sprintf(categoryKeyFormat, level))
	return nil
}

// Backend decorates a full collaborator with the directory caches. The
// reference-data calls go through the caches; everything else passes
// straight to the inner collaborator.
type Backend struct {
	backend.Backend
	dir *Directory
}

var _ backend.Backend = (*Backend)(nil)

// WrapBackend caches the reference-data calls of b.
func WrapBackend(b backend.Backend, ttl time.Duration) *Backend {
	return &Backend{
		Backend: b,
		dir:     NewDirectory(b, b, ttl),
	}
}

// Register adds the wrapped caches to a cleanup manager.
func (b *Backend) Register(m *Manager) {
	b.dir.Register(m)
}

func (b *Backend) ListCategories(ctx context.Context, level int) ([]string, error) {
	return b.dir.ListCategories(ctx, level)
}

func (b *Backend) CreateCategory(ctx context.Context, name string, level int) error {
	return b.dir.CreateCategory(ctx, name, level)
}

func (b *Backend) ListUsers(ctx context.Context) ([]core.User, error) {
	return b.dir.ListUsers(ctx)
}

// ListUsers implements backend.UserDirectory
func (d *Directory) ListUsers(ctx context.Context) ([]core.User, error) {
	if users, ok := d.userCache.Get(usersKey); ok {
		return append([]core.User(nil), users...), nil
	}
	users, err := d.users.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	d.userCache.Set(usersKey, users)
	return append([]core.User(nil), users...), nil
}
