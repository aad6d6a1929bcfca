// Package ownership builds per-tenant address books from the repository,
// with cache-aside reads so batch annotation does not hit the database
// once per transaction.
package ownership

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/compliance"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// DefaultTTL bounds staleness of a cached address set.
const DefaultTTL = 5 * time.Minute

// Service resolves the set of addresses owned by a tenant.
type Service struct {
	repo  domain.Repository
	cache domain.Cache
	ttl   time.Duration
}

// NewService creates an ownership service. Both collaborators are
// optional: without a repository the address book is always empty,
// without a cache every lookup goes to the repository.
func NewService(repo domain.Repository, cache domain.Cache) *Service {
	return &Service{
		repo:  repo,
		cache: cache,
		ttl:   DefaultTTL,
	}
}

// AddressBook returns the tenant's address book, built once per call
// (callers annotating a batch should reuse the returned book).
func (s *Service) AddressBook(ctx context.Context, tenantID string) (*compliance.AddressBook, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}
	if s.repo == nil {
		return compliance.NewAddressBook(nil), nil
	}

	if s.cache != nil {
		if addresses, err := s.cache.GetAddressSet(ctx, tenantID); err == nil && addresses != nil {
			return compliance.NewAddressBook(addresses), nil
		}
	}

	addresses, err := s.repo.ListOwnedAddresses(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list owned addresses: %w", err)
	}

	if s.cache != nil {
		// Cache even the empty set; a miss and an empty book differ.
		_ = s.cache.SetAddressSet(ctx, tenantID, addresses, s.ttl)
	}

	return compliance.NewAddressBook(addresses), nil
}

// AddAddresses registers owned addresses and invalidates the cached set.
func (s *Service) AddAddresses(ctx context.Context, tenantID string, addresses []string) error {
	if s.repo == nil {
		return fmt.Errorf("repository not available")
	}
	if len(addresses) == 0 {
		return fmt.Errorf("at least one address is required")
	}

	if err := s.repo.AddOwnedAddresses(ctx, tenantID, addresses); err != nil {
		return err
	}
	s.invalidate(ctx, tenantID)
	return nil
}

// RemoveAddress unregisters one owned address and invalidates the cache.
func (s *Service) RemoveAddress(ctx context.Context, tenantID string, address string) error {
	if s.repo == nil {
		return fmt.Errorf("repository not available")
	}

	if err := s.repo.RemoveOwnedAddress(ctx, tenantID, address); err != nil {
		return err
	}
	s.invalidate(ctx, tenantID)
	return nil
}

// ListAddresses returns the stored owned addresses straight from the
// repository (management reads bypass the cache).
func (s *Service) ListAddresses(ctx context.Context, tenantID string) ([]string, error) {
	if s.repo == nil {
		return nil, fmt.Errorf("repository not available")
	}
	return s.repo.ListOwnedAddresses(ctx, tenantID)
}

func (s *Service) invalidate(ctx context.Context, tenantID string) {
	if s.cache != nil {
		_ = s.cache.InvalidateAddressSet(ctx, tenantID)
	}
}
