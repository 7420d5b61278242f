package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/goliatone/go-outreach/core"
)

const threadCacheKeyPrefix = "go-outreach::thread::v1"

var errThreadCacheMiss = errors.New("sqlstore: thread lookup miss")

// CachedThreadStore is a read-through cache over a ThreadStore for the two
// lookups on the inbound hot path: by id and by Message-ID. Only hits are
// cached; every mutation evicts the affected keys.
type CachedThreadStore struct {
	base  core.ThreadStore
	cache repositorycache.CacheService
}

func NewCachedThreadStore(base core.ThreadStore, cacheService repositorycache.CacheService) (*CachedThreadStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base thread store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: thread cache service is required")
	}
	return &CachedThreadStore{base: base, cache: cacheService}, nil
}

// ThreadCacheKey builds go-outreach::thread::v1::<kind>::<segments...> with
// every segment URL-path escaped.
func ThreadCacheKey(kind string, segments ...string) string {
	parts := []string{threadCacheKeyPrefix, url.PathEscape(kind)}
	for _, segment := range segments {
		parts = append(parts, url.PathEscape(strings.TrimSpace(segment)))
	}
	return strings.Join(parts, "::")
}

func (s *CachedThreadStore) Create(ctx context.Context, in core.CreateThreadInput) (core.EmailThread, bool, error) {
	if err := s.ready(); err != nil {
		return core.EmailThread{}, false, err
	}
	return s.base.Create(ctx, in)
}

func (s *CachedThreadStore) Get(ctx context.Context, id string) (core.EmailThread, error) {
	if err := s.ready(); err != nil {
		return core.EmailThread{}, err
	}
	return repositorycache.GetOrFetch(ctx, s.cache, ThreadCacheKey("id", id), func(ctx context.Context) (core.EmailThread, error) {
		return s.base.Get(ctx, id)
	})
}

func (s *CachedThreadStore) FindActiveByMessageID(ctx context.Context, tenantID string, messageID string) (core.EmailThread, bool, error) {
	if err := s.ready(); err != nil {
		return core.EmailThread{}, false, err
	}
	key := ThreadCacheKey("message_id", tenantID, messageID)
	thread, err := repositorycache.GetOrFetch(ctx, s.cache, key, func(ctx context.Context) (core.EmailThread, error) {
		found, ok, err := s.base.FindActiveByMessageID(ctx, tenantID, messageID)
		if err != nil {
			return core.EmailThread{}, err
		}
		if !ok {
			return core.EmailThread{}, errThreadCacheMiss
		}
		return found, nil
	})
	if errors.Is(err, errThreadCacheMiss) {
		return core.EmailThread{}, false, nil
	}
	if err != nil {
		return core.EmailThread{}, false, err
	}
	return thread, true, nil
}

func (s *CachedThreadStore) FindActiveByProviderThreadID(ctx context.Context, tenantID string, providerThreadID string) (core.EmailThread, bool, error) {
	if err := s.ready(); err != nil {
		return core.EmailThread{}, false, err
	}
	return s.base.FindActiveByProviderThreadID(ctx, tenantID, providerThreadID)
}

func (s *CachedThreadStore) FindActiveByOutboundMessageID(ctx context.Context, tenantID string, outboundMessageID string) (core.EmailThread, bool, error) {
	if err := s.ready(); err != nil {
		return core.EmailThread{}, false, err
	}
	return s.base.FindActiveByOutboundMessageID(ctx, tenantID, outboundMessageID)
}

func (s *CachedThreadStore) GetActive(ctx context.Context, id string) (core.EmailThread, bool, error) {
	if err := s.ready(); err != nil {
		return core.EmailThread{}, false, err
	}
	return s.base.GetActive(ctx, id)
}

func (s *CachedThreadStore) RecordReply(ctx context.Context, id string, at time.Time) error {
	if err := s.ready(); err != nil {
		return err
	}
	if err := s.base.RecordReply(ctx, id, at); err != nil {
		return err
	}
	return s.Evict(ctx, id)
}

func (s *CachedThreadStore) Deactivate(ctx context.Context, id string) error {
	if err := s.ready(); err != nil {
		return err
	}
	if err := s.base.Deactivate(ctx, id); err != nil {
		return err
	}
	return s.Evict(ctx, id)
}

// Evict drops every cached key for the thread. Writes that bypass this store,
// such as the reply counter bumped inside an inbound commit, must call it.
func (s *CachedThreadStore) Evict(ctx context.Context, id string) error {
	if err := s.ready(); err != nil {
		return err
	}
	thread, err := s.base.Get(ctx, id)
	if err != nil {
		return err
	}
	keys := []string{
		ThreadCacheKey("id", thread.ID),
		ThreadCacheKey("message_id", thread.TenantID, thread.MessageID),
		ThreadCacheKey("message_id", "", thread.MessageID),
	}
	for _, key := range keys {
		if err := s.cache.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

func (s *CachedThreadStore) ready() error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached thread store is not configured")
	}
	return nil
}
