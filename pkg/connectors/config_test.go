package connectors_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/fieldsync/pkg/connectors"
	"github.com/agentstation/fieldsync/pkg/errors"
)

type urlConfig struct {
	BaseURL string `json:"base_url" validate:"required,url"`
	Limit   int    `json:"limit" validate:"omitempty,min=1"`
}

func TestParseConfig(t *testing.T) {
	cfg, err := connectors.ParseConfig[urlConfig]("chat", json.RawMessage(`{"base_url":"https://chat.example.com","extra":true}`))
	require.NoError(t, err)
	assert.Equal(t, "https://chat.example.com", cfg.BaseURL)

	_, err = connectors.ParseConfig[urlConfig]("chat", nil)
	assert.True(t, errors.IsValidationError(err))

	_, err = connectors.ParseConfig[urlConfig]("chat", json.RawMessage(`{"base_url":"not a url"}`))
	assert.True(t, errors.IsValidationError(err))

	_, err = connectors.ParseConfig[urlConfig]("chat", json.RawMessage(`{"base_url":`))
	var parseErr *errors.ParseError
	assert.ErrorAs(t, err, &parseErr)
}
