// Package ledgertest provides an in-memory StoreClient for service tests.
package ledgertest

import (
	"context"
	"sync"

	creditledgerdomain "github.com/fitglance/fitglance/internal/creditledger/domain"
	"github.com/fitglance/fitglance/internal/shopify"
)

// Store keeps metafields in memory with the same batch get/set surface as the
// remote store.
type Store struct {
	mu     sync.Mutex
	fields map[string]shopify.Metafield

	// FailSet, when set, is returned by SetMetafields to simulate a remote
	// write failure after validation passed.
	FailSet error

	SetCalls int
}

func NewStore() *Store {
	return &Store{fields: make(map[string]shopify.Metafield)}
}

func (s *Store) InstallationID(ctx context.Context) (string, error) {
	return "gid://shopify/AppInstallation/1", nil
}

func (s *Store) GetMetafields(ctx context.Context, namespace string, keys []string) (map[string]shopify.Metafield, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make(map[string]shopify.Metafield, len(keys))
	for _, k := range keys {
		if f, ok := s.fields[k]; ok {
			result[k] = f
		}
	}
	return result, nil
}

func (s *Store) SetMetafields(ctx context.Context, entries []shopify.MetafieldInput) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.SetCalls++
	if s.FailSet != nil {
		return s.FailSet
	}
	for _, e := range entries {
		s.fields[e.Key] = shopify.Metafield{Key: e.Key, Type: e.Type, Value: e.Value}
	}
	return nil
}

// Value returns the raw stored value for key.
func (s *Store) Value(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fields[key].Value
}

var _ creditledgerdomain.StoreClient = (*Store)(nil)
