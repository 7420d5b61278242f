// Package core contains the outreach domain contracts, entities and
// orchestration: reply attribution, thread registration, scheduled action
// dispatch and mailbox subscription upkeep. Storage, transport and queue
// adapters depend on this package; core does not depend on them.
package core
