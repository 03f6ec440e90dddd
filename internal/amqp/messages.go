package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"ledgerlens/internal/core"
)

// Reasons carried by a LedgerUpdatedMessage.
const (
	ReasonImport     = "import"
	ReasonBudget     = "budget"     // budgets or fixed categories changed
	ReasonRebaseline = "rebaseline" // replay the whole ledger before the pass
)

// LedgerUpdatedMessage tells the worker that a user's ledger changed. It
// carries no transactions; the worker reads them from the ledger.
type LedgerUpdatedMessage struct {
	UserID    string    `json:"user_id"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func NewLedgerUpdatedMessage(userID, reason string) *LedgerUpdatedMessage {
	return &LedgerUpdatedMessage{
		UserID:    userID,
		Reason:    reason,
		Timestamp: time.Now(),
	}
}

func (m *LedgerUpdatedMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// LedgerUpdatedMessageFromJSON decodes and validates a message body.
func LedgerUpdatedMessageFromJSON(data []byte) (*LedgerUpdatedMessage, error) {
	var msg LedgerUpdatedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.UserID == "" {
		return nil, fmt.Errorf("ledger updated message: %w", core.ErrInvalidUserID)
	}
	return &msg, nil
}

// InsightMessage is the wire form of one insight.
type InsightMessage struct {
	ID          string          `json:"id"`
	Kind        core.Kind       `json:"kind"`
	Severity    string          `json:"severity"`
	Category    string          `json:"category,omitempty"`
	DedupKey    string          `json:"dedup_key"`
	GeneratedAt time.Time       `json:"generated_at"`
	Payload     json.RawMessage `json:"payload"`
}

// InsightBatchMessage carries the ordered output of one pass.
type InsightBatchMessage struct {
	UserID    string           `json:"user_id"`
	Insights  []InsightMessage `json:"insights"`
	Timestamp time.Time        `json:"timestamp"`
}

func NewInsightBatchMessage(userID string, insights []core.Insight) (*InsightBatchMessage, error) {
	msg := &InsightBatchMessage{
		UserID:    userID,
		Insights:  make([]InsightMessage, 0, len(insights)),
		Timestamp: time.Now(),
	}
	for _, in := range insights {
		payload, err := json.Marshal(in.Payload)
		if err != nil {
			return nil, fmt.Errorf("encode payload of %s: %w", in.ID, err)
		}
		msg.Insights = append(msg.Insights, InsightMessage{
			ID:          in.ID,
			Kind:        in.Kind,
			Severity:    in.Severity.String(),
			Category:    in.Category,
			DedupKey:    in.DedupKey,
			GeneratedAt: in.GeneratedAt,
			Payload:     payload,
		})
	}
	return msg, nil
}

func (m *InsightBatchMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func InsightBatchMessageFromJSON(data []byte) (*InsightBatchMessage, error) {
	var msg InsightBatchMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Decode turns the batch back into typed insights.
func (m *InsightBatchMessage) Decode() ([]core.Insight, error) {
	out := make([]core.Insight, 0, len(m.Insights))
	for _, im := range m.Insights {
		sev, err := core.ParseSeverity(im.Severity)
		if err != nil {
			return nil, fmt.Errorf("insight %s: %w", im.ID, err)
		}
		payload, err := core.DecodePayload(im.Kind, im.Payload)
		if err != nil {
			return nil, fmt.Errorf("insight %s: %w", im.ID, err)
		}
		out = append(out, core.Insight{
			ID:          im.ID,
			UserID:      m.UserID,
			Kind:        im.Kind,
			Severity:    sev,
			Category:    im.Category,
			Payload:     payload,
			GeneratedAt: im.GeneratedAt,
			DedupKey:    im.DedupKey,
		})
	}
	return out, nil
}
