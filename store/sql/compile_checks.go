package sqlstore

import "github.com/goliatone/go-outreach/core"

var (
	_ core.ThreadStore              = (*ThreadStore)(nil)
	_ core.ThreadStore              = (*CachedThreadStore)(nil)
	_ core.InboundMessageStore      = (*InboundMessageStore)(nil)
	_ core.OutboundMessageStore     = (*OutboundMessageStore)(nil)
	_ core.ScheduledActionStore     = (*ScheduledActionStore)(nil)
	_ core.ReplyEventLog            = (*ReplyEventStore)(nil)
	_ core.MailboxSubscriptionStore = (*MailboxSubscriptionStore)(nil)
	_ core.StoreProvider            = (*RepositoryFactory)(nil)
	_ core.RepositoryStoreFactory   = (*RepositoryFactory)(nil)
)
