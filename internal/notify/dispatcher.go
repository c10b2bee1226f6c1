package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"remindd/internal/domain"
	"remindd/internal/push"
	"remindd/internal/store"
)

// Dispatcher fans a notification out to recipient devices and records the
// outcome. Every delivery attempt leaves exactly one NotificationRecord per
// recipient, success or not. A transport failure is an outcome, never an
// error; only store I/O failures are returned to the caller.
type Dispatcher struct {
	devices   store.DeviceDirectory
	transport push.Transport
	records   store.NotificationStore
}

func NewDispatcher(devices store.DeviceDirectory, transport push.Transport, records store.NotificationStore) *Dispatcher {
	return &Dispatcher{devices: devices, transport: transport, records: records}
}

// SendToOne delivers to a single recipient. With no registered devices it
// returns NoDevices without contacting the transport or writing history.
func (d *Dispatcher) SendToOne(ctx context.Context, recipientID, title, body string, typ domain.NotificationType, data map[string]string) (domain.DeliveryResult, error) {
	tokens, err := d.devices.DeviceTokens(ctx, recipientID)
	if err != nil {
		return domain.DeliveryResult{}, fmt.Errorf("lookup devices for %s: %w", recipientID, err)
	}
	if len(tokens) == 0 {
		return domain.DeliveryResult{Outcome: domain.NoDevices}, nil
	}

	sendErr := d.transport.SendSingle(ctx, tokens[0], title, body, data)
	if sendErr != nil {
		log.Warn().Err(sendErr).Str("recipient", recipientID).Msg("push delivery failed")
	}

	res := domain.DeliveryResult{Outcome: outcome(sendErr), Recipients: 1, Tokens: 1}
	if err := d.records.Append(ctx, record(recipientID, title, body, typ, data, sendErr == nil)); err != nil {
		log.Error().Err(err).Str("recipient", recipientID).Msg("failed to store notification record")
		return res, fmt.Errorf("store notification: %w", err)
	}
	return res, nil
}

// SendToMany delivers one multicast to the union of all recipients' tokens
// and writes one record per recipient that has at least one token. The
// multicast outcome is aggregate; every recorded recipient shares it.
func (d *Dispatcher) SendToMany(ctx context.Context, recipientIDs []string, title, body string, typ domain.NotificationType, data map[string]string) (domain.DeliveryResult, error) {
	byUser, err := d.devices.DeviceTokensForMany(ctx, recipientIDs)
	if err != nil {
		return domain.DeliveryResult{}, fmt.Errorf("lookup devices: %w", err)
	}

	var reachable []string
	var tokens []string
	for _, id := range recipientIDs {
		if toks := byUser[id]; len(toks) > 0 {
			reachable = append(reachable, id)
			tokens = append(tokens, toks...)
		}
	}
	if len(tokens) == 0 {
		return domain.DeliveryResult{Outcome: domain.NoDevices}, nil
	}

	sendErr := d.transport.SendMulticast(ctx, tokens, title, body, data)
	if sendErr != nil {
		log.Warn().Err(sendErr).Int("tokens", len(tokens)).Msg("push multicast failed")
	}

	res := domain.DeliveryResult{Outcome: outcome(sendErr), Recipients: len(reachable), Tokens: len(tokens)}
	var storeErrs []error
	for _, id := range reachable {
		if err := d.records.Append(ctx, record(id, title, body, typ, data, sendErr == nil)); err != nil {
			log.Error().Err(err).Str("recipient", id).Msg("failed to store notification record")
			storeErrs = append(storeErrs, err)
		}
	}
	return res, errors.Join(storeErrs...)
}

// SendTaskEvent shapes a task lifecycle event as a notification and fans it
// out. Reminder events are stored as type reminder, everything else as alert.
// Entries in extra are merged into the payload alongside task_id and event.
func (d *Dispatcher) SendTaskEvent(ctx context.Context, recipientIDs []string, taskID string, event domain.TaskEvent, title, body string, extra map[string]string) (domain.DeliveryResult, error) {
	typ := domain.TypeAlert
	if event == domain.EventDueSoon {
		typ = domain.TypeReminder
	}
	data := map[string]string{"task_id": taskID, "event": string(event)}
	for k, v := range extra {
		data[k] = v
	}
	return d.SendToMany(ctx, recipientIDs, title, body, typ, data)
}

func outcome(sendErr error) domain.DeliveryOutcome {
	if sendErr != nil {
		return domain.DeliveryFailed
	}
	return domain.Delivered
}

func record(recipientID, title, body string, typ domain.NotificationType, data map[string]string, delivered bool) domain.NotificationRecord {
	rec := domain.NotificationRecord{
		RecipientID: recipientID,
		Title:       title,
		Body:        body,
		Type:        typ,
		Data:        data,
		IsDelivered: delivered,
	}
	if delivered {
		now := time.Now()
		rec.DeliveredAt = &now
	}
	return rec
}
