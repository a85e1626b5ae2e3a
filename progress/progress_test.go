package progress

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNullProgressIsAllNoOpsAndRefusesAgreement(t *testing.T) {
	n := &NullProgress{}
	assert.NotPanics(t, func() {
		n.Spin("x")
		n.Notify("x")
		n.Start(100)
		n.Set(50)
		n.Finished()
	})
	assert.False(t, n.Agreed("intro", "license"))
}

func TestMakeProgressBarPicksNullWhenNotATerminal(t *testing.T) {
	orig := attachedToTerminal
	attachedToTerminal = func() bool { return false }
	defer func() { attachedToTerminal = orig }()

	m := MakeProgressBar("test")
	_, isNull := m.(*NullProgress)
	assert.True(t, isNull)
}

func TestMakeProgressBarPicksTextWhenTerminal(t *testing.T) {
	orig := attachedToTerminal
	attachedToTerminal = func() bool { return true }
	defer func() { attachedToTerminal = orig }()

	m := MakeProgressBar("test")
	_, isText := m.(*TextProgress)
	assert.True(t, isText)
}

func TestTextProgressSetWithTotalDoesNotPanic(t *testing.T) {
	tp := NewTextProgress("test")
	tp.Start(200)
	assert.NotPanics(t, func() {
		tp.Set(100)
		tp.Finished()
	})
}
