package sqlstore

import (
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

func threadHandlers() repository.ModelHandlers[*threadRecord] {
	return repository.ModelHandlers[*threadRecord]{
		NewRecord: func() *threadRecord {
			return &threadRecord{}
		},
		GetID: func(record *threadRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *threadRecord, id uuid.UUID) {
			if record == nil {
				return
			}
			record.ID = id.String()
		},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record *threadRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.ID)
		},
	}
}

func inboundMessageHandlers() repository.ModelHandlers[*inboundMessageRecord] {
	return repository.ModelHandlers[*inboundMessageRecord]{
		NewRecord: func() *inboundMessageRecord {
			return &inboundMessageRecord{}
		},
		GetID: func(record *inboundMessageRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *inboundMessageRecord, id uuid.UUID) {
			if record == nil {
				return
			}
			record.ID = id.String()
		},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record *inboundMessageRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.ID)
		},
	}
}

func outboundMessageHandlers() repository.ModelHandlers[*outboundMessageRecord] {
	return repository.ModelHandlers[*outboundMessageRecord]{
		NewRecord: func() *outboundMessageRecord {
			return &outboundMessageRecord{}
		},
		GetID: func(record *outboundMessageRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *outboundMessageRecord, id uuid.UUID) {
			if record == nil {
				return
			}
			record.ID = id.String()
		},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record *outboundMessageRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.ID)
		},
	}
}

func scheduledActionHandlers() repository.ModelHandlers[*scheduledActionRecord] {
	return repository.ModelHandlers[*scheduledActionRecord]{
		NewRecord: func() *scheduledActionRecord {
			return &scheduledActionRecord{}
		},
		GetID: func(record *scheduledActionRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *scheduledActionRecord, id uuid.UUID) {
			if record == nil {
				return
			}
			record.ID = id.String()
		},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record *scheduledActionRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.ID)
		},
	}
}

func replyEventHandlers() repository.ModelHandlers[*replyEventRecord] {
	return repository.ModelHandlers[*replyEventRecord]{
		NewRecord: func() *replyEventRecord {
			return &replyEventRecord{}
		},
		GetID: func(record *replyEventRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *replyEventRecord, id uuid.UUID) {
			if record == nil {
				return
			}
			record.ID = id.String()
		},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record *replyEventRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.ID)
		},
	}
}

func mailboxSubscriptionHandlers() repository.ModelHandlers[*mailboxSubscriptionRecord] {
	return repository.ModelHandlers[*mailboxSubscriptionRecord]{
		NewRecord: func() *mailboxSubscriptionRecord {
			return &mailboxSubscriptionRecord{}
		},
		GetID: func(record *mailboxSubscriptionRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *mailboxSubscriptionRecord, id uuid.UUID) {
			if record == nil {
				return
			}
			record.ID = id.String()
		},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record *mailboxSubscriptionRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.ID)
		},
	}
}

func parseUUID(value string) uuid.UUID {
	parsed, err := uuid.Parse(strings.TrimSpace(value))
	if err != nil {
		return uuid.Nil
	}
	return parsed
}
