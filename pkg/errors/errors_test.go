package errors_test

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/agentstation/fieldsync/pkg/errors"
)

func TestTypedErrorsMatchSentinels(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
	}{
		{"not found", errors.NewNotFoundError("tab_mapping", "tm-1"), errors.ErrNotFound},
		{"validation", errors.NewValidationError("kind", "", "required"), errors.ErrInvalidInput},
		{"config", errors.NewConfigError("engine", "no key column", nil), errors.ErrConfiguration},
		{"rate limited", &errors.APIError{Source: "tickets", StatusCode: 429}, errors.ErrRateLimited},
		{"unavailable", &errors.APIError{Source: "chat", StatusCode: 503}, errors.ErrSourceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("outer: %w", tt.err)
			assert.True(t, stderrors.Is(wrapped, tt.target))
		})
	}
}

func TestConfigErrorUnwrapsCause(t *testing.T) {
	err := errors.NewConfigError("engine", "", errors.ErrSchemaDrift)
	assert.True(t, errors.IsConfigError(err))
	assert.True(t, stderrors.Is(err, errors.ErrSchemaDrift))
	assert.Equal(t, "configuration error in engine: schema drift", err.Error())
}

func TestWrapHelpersPassNil(t *testing.T) {
	assert.NoError(t, errors.WrapValidation("f", nil))
	assert.NoError(t, errors.WrapResource("create", "entity", "", nil))
	assert.NoError(t, errors.WrapParse("csv", "a.csv", nil))
	assert.NoError(t, errors.WrapAPI("chat", 500, nil))
}

func TestResourceErrorMessage(t *testing.T) {
	err := errors.WrapResource("insert", "entity", "", stderrors.New("unique violation"))
	assert.Equal(t, "failed to insert entity: unique violation", err.Error())

	var re *errors.ResourceError
	assert.True(t, stderrors.As(err, &re))
	assert.Equal(t, "insert", re.Operation)
}

func TestSyncError(t *testing.T) {
	err := errors.NewSyncError("tm-9", "fetching-source", errors.ErrNotTabular)
	assert.Contains(t, err.Error(), "tm-9")
	assert.True(t, stderrors.Is(err, errors.ErrNotTabular))
}
