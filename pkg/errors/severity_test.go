package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOf_Wrapped(t *testing.T) {
	err := fmt.Errorf("failed to load table for E-glass: %w", NewUnknownProductError("E-glass"))

	assert.Equal(t, ErrCodeUnknownProduct, CodeOf(err))
	assert.True(t, IsCode(err, ErrCodeUnknownProduct))
	assert.False(t, IsCode(err, ErrCodeUnknownItem))
	assert.Equal(t, "", CodeOf(fmt.Errorf("plain")))
}

func TestSPCError_Message(t *testing.T) {
	err := NewMissingColumnError("E-glass", []string{"mix", "actual"})
	assert.Equal(t, "[error] MISSING_COLUMN: Missing required column(s): mix, actual (subject: E-glass)", err.Error())

	assert.Equal(t, "[error] INVALID_WINDOW: bad", NewInvalidWindowError("bad").Error())
}

func TestWarningsAreRecoverable(t *testing.T) {
	for _, e := range []*SPCError{
		NewMissingSpecLimitsWarning("SiO2"),
		NewDegenerateSeriesWarning("SiO2", 1),
		NewEmptySelectionError("E-glass", "SiO2"),
	} {
		assert.True(t, e.Recoverable, e.Code)
		assert.Less(t, e.Severity, SeverityError, e.Code)
	}
}

func TestSeverityString(t *testing.T) {
	assert.Equal(t, "warning", SeverityWarning.String())
	assert.Equal(t, "unknown", Severity(42).String())
}
