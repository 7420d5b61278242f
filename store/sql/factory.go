package sqlstore

import (
	"fmt"

	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/goliatone/go-outreach/core"
	"github.com/uptrace/bun"
)

type FactoryOption func(*RepositoryFactory)

// WithThreadCache fronts the thread store with a read-through cache.
func WithThreadCache(cacheService repositorycache.CacheService) FactoryOption {
	return func(f *RepositoryFactory) {
		f.threadCache = cacheService
	}
}

type RepositoryFactory struct {
	db          *bun.DB
	threadCache repositorycache.CacheService

	threadStore          *ThreadStore
	cachedThreadStore    *CachedThreadStore
	inboundMessageStore  *InboundMessageStore
	outboundMessageStore *OutboundMessageStore
	scheduledActionStore *ScheduledActionStore
	replyEventStore      *ReplyEventStore
	subscriptionStore    *MailboxSubscriptionStore
}

func NewRepositoryFactory(opts ...FactoryOption) *RepositoryFactory {
	factory := &RepositoryFactory{}
	for _, opt := range opts {
		if opt != nil {
			opt(factory)
		}
	}
	return factory
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client, opts ...FactoryOption) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory(opts...)
	if _, err := factory.BuildStores(client); err != nil {
		return nil, err
	}
	return factory, nil
}

func NewRepositoryFactoryFromDB(db *bun.DB, opts ...FactoryOption) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory(opts...)
	if _, err := factory.BuildStores(db); err != nil {
		return nil, err
	}
	return factory, nil
}

func (f *RepositoryFactory) BuildStores(persistenceClient any) (core.StoreProvider, error) {
	if f == nil {
		return nil, fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return nil, err
		}
		f.db = db
	}
	if f.threadStore != nil && f.inboundMessageStore != nil {
		return f, nil
	}
	if err := f.initStores(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func (f *RepositoryFactory) ThreadStore() core.ThreadStore {
	if f == nil {
		return nil
	}
	if f.cachedThreadStore != nil {
		return f.cachedThreadStore
	}
	return f.threadStore
}

func (f *RepositoryFactory) InboundMessageStore() core.InboundMessageStore {
	if f == nil {
		return nil
	}
	return f.inboundMessageStore
}

func (f *RepositoryFactory) OutboundMessageStore() core.OutboundMessageStore {
	if f == nil {
		return nil
	}
	return f.outboundMessageStore
}

func (f *RepositoryFactory) ScheduledActionStore() core.ScheduledActionStore {
	if f == nil {
		return nil
	}
	return f.scheduledActionStore
}

func (f *RepositoryFactory) ReplyEventLog() core.ReplyEventLog {
	if f == nil {
		return nil
	}
	return f.replyEventStore
}

func (f *RepositoryFactory) MailboxSubscriptionStore() core.MailboxSubscriptionStore {
	if f == nil {
		return nil
	}
	return f.subscriptionStore
}

func (f *RepositoryFactory) initStores() error {
	threadStore, err := NewThreadStore(f.db)
	if err != nil {
		return err
	}
	f.threadStore = threadStore
	if f.threadCache != nil {
		cached, err := NewCachedThreadStore(threadStore, f.threadCache)
		if err != nil {
			return err
		}
		f.cachedThreadStore = cached
	}
	inboundStore, err := NewInboundMessageStore(f.db)
	if err != nil {
		return err
	}
	if f.cachedThreadStore != nil {
		inboundStore.OnReplyCommitted(f.cachedThreadStore.Evict)
	}
	f.inboundMessageStore = inboundStore
	outboundStore, err := NewOutboundMessageStore(f.db)
	if err != nil {
		return err
	}
	f.outboundMessageStore = outboundStore
	actionStore, err := NewScheduledActionStore(f.db)
	if err != nil {
		return err
	}
	f.scheduledActionStore = actionStore
	replyEventStore, err := NewReplyEventStore(f.db)
	if err != nil {
		return err
	}
	f.replyEventStore = replyEventStore
	subscriptionStore, err := NewMailboxSubscriptionStore(f.db)
	if err != nil {
		return err
	}
	f.subscriptionStore = subscriptionStore
	return nil
}

func resolveBunDB(candidate any) (*bun.DB, error) {
	switch typed := candidate.(type) {
	case nil:
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	case *bun.DB:
		return typed, nil
	case interface{ DB() *bun.DB }:
		db := typed.DB()
		if db == nil {
			return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
		}
		return db, nil
	default:
		return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
	}
}
