package status

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventLogLogDoesNotPanic(t *testing.T) {
	e := NewEventLog("txn-1", "boot-1")
	assert.NotPanics(t, func() {
		e.Log(EventInstall, "install started", "step", "plan")
		e.LogBundleHash(EventWriteSlot, "deadbeef", "writing image")
	})
}

func TestEventLogFieldsIncludeTransactionAndBoot(t *testing.T) {
	e := NewEventLog("txn-2", "boot-2")
	fields := e.fields("extra", "value")
	assert.Contains(t, fields, "transaction_id")
	assert.Contains(t, fields, "txn-2")
	assert.Contains(t, fields, "boot_id")
	assert.Contains(t, fields, "boot-2")
	assert.Contains(t, fields, "extra")
}
