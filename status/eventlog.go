package status

import (
	"go.uber.org/zap"

	"github.com/mvo5/slotupdate/logger"
)

// EventType is one of the event categories the original implementation's
// event-log.c filters loggers by.
type EventType string

const (
	EventBoot          EventType = "boot"
	EventInstall       EventType = "install"
	EventService       EventType = "service"
	EventWriteSlot     EventType = "write-slot"
	EventBootSelection EventType = "boot-selection"
)

// EventLog is the supplemented audit trail spec.md's distillation omits
// but the original implementation carries: a structured, append-only
// record of install attempts tagged with a transaction ID, independent of
// the regular debug/info logging package logger provides. It is built on
// the same zap.SugaredLogger rather than a bespoke writer, emitting one
// structured log line per event with fields the original's readable
// format also carries (transaction ID, bundle hash, boot ID).
type EventLog struct {
	l             *zap.SugaredLogger
	transactionID string
	bootID        string
}

// NewEventLog starts an event log for one install attempt.
func NewEventLog(transactionID, bootID string) *EventLog {
	return &EventLog{l: logger.L(), transactionID: transactionID, bootID: bootID}
}

func (e *EventLog) fields(extra ...interface{}) []interface{} {
	fields := []interface{}{"transaction_id", e.transactionID, "boot_id", e.bootID}
	return append(fields, extra...)
}

// Log records one event of the given type.
func (e *EventLog) Log(eventType EventType, message string, kv ...interface{}) {
	args := append([]interface{}{"event_type", string(eventType)}, e.fields(kv...)...)
	e.l.Infow(message, args...)
}

// LogBundleHash records an event that also carries the bundle's content
// hash, matching the original's BUNDLE_HASH structured field.
func (e *EventLog) LogBundleHash(eventType EventType, bundleHash, message string, kv ...interface{}) {
	args := append([]interface{}{"event_type", string(eventType), "bundle_hash", bundleHash}, e.fields(kv...)...)
	e.l.Infow(message, args...)
}
