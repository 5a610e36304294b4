package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"payflow/internal/model"
)

type MessageBus interface {
	Publish(topic string, data []byte) error
}

const (
	TopicTopUpFinalized    = "payments.topup.finalized"
	TopicWithdrawFinalized = "payments.withdraw.finalized"
	TopicStale             = "payments.stale"
)

func FinalizedTopic(kind model.LedgerKind) string {
	if kind == model.KindWithdraw {
		return TopicWithdrawFinalized
	}
	return TopicTopUpFinalized
}

// EventPublisher serializes ledger events onto a MessageBus.
type EventPublisher struct {
	bus MessageBus
}

func NewEventPublisher(bus MessageBus) *EventPublisher {
	return &EventPublisher{bus: bus}
}

func (p *EventPublisher) PublishLedgerEvent(_ context.Context, topic string, ev model.LedgerEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal ledger event: %w", err)
	}
	if err := p.bus.Publish(topic, data); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}
