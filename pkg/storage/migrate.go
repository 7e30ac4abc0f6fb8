package storage

import (
	"github.com/agentworld-dev/runtime/pkg/idutil"
	"github.com/agentworld-dev/runtime/pkg/types"
)

// MigrateMessageIDs is the idempotent messageId backfill GetMemory runs
// on legacy rows: every message missing a messageId is assigned a fresh
// 10-char token. Calling it again on the already-migrated slice changes
// nothing. A new slice is always returned so callers never alias the
// input.
func MigrateMessageIDs(msgs []types.AgentMessage) (migrated []types.AgentMessage, changedCount int) {
	out := make([]types.AgentMessage, len(msgs))
	copy(out, msgs)
	for i, m := range out {
		if m.MessageID == "" {
			out[i].MessageID = idutil.NewMessageID()
			changedCount++
		}
	}
	return out, changedCount
}
