package agent

import "github.com/ayourtch/kimichat-go/pkg/models"

// repairTranscript drops tool messages whose tool_call_id doesn't answer a
// pending tool call from the preceding assistant message, and backfills a
// missing tool_call_id from the oldest pending call. Backends reject
// transcripts with orphaned tool results, so history loaded from the store
// is repaired when loop state is initialized for a run.
func repairTranscript(history []*models.Message) []*models.Message {
	if len(history) == 0 {
		return history
	}

	pending := make(map[string]string)
	pendingOrder := make([]string, 0)
	repaired := make([]*models.Message, 0, len(history))

	clearPending := func() {
		for k := range pending {
			delete(pending, k)
		}
		pendingOrder = pendingOrder[:0]
	}

	for _, msg := range history {
		if msg == nil {
			continue
		}

		switch msg.Role {
		case models.RoleAssistant:
			clearPending()
			for _, call := range msg.ToolCalls {
				if call.ID == "" {
					continue
				}
				pending[call.ID] = call.Function.Name
				pendingOrder = append(pendingOrder, call.ID)
			}
			repaired = append(repaired, msg)
		case models.RoleTool:
			id := msg.ToolCallID
			if id == "" && len(pendingOrder) > 0 {
				id = pendingOrder[0]
			}
			name, ok := pending[id]
			if !ok {
				continue
			}
			delete(pending, id)
			pendingOrder = removeID(pendingOrder, id)

			copied := *msg
			copied.ToolCallID = id
			if copied.Name == "" {
				copied.Name = name
			}
			repaired = append(repaired, &copied)
		default:
			repaired = append(repaired, msg)
		}
	}

	return repaired
}

func removeID(ids []string, target string) []string {
	for i, id := range ids {
		if id == target {
			copy(ids[i:], ids[i+1:])
			return ids[:len(ids)-1]
		}
	}
	return ids
}
