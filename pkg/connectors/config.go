package connectors

import (
	"encoding/json"

	"github.com/go-playground/validator/v10"

	"github.com/agentstation/fieldsync/pkg/errors"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ParseConfig decodes a connection configuration into T and validates it
// with its validate tags. Unknown keys are ignored.
func ParseConfig[T any](kind Kind, raw json.RawMessage) (T, error) {
	var cfg T
	if len(raw) == 0 || string(raw) == "null" {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return cfg, errors.WrapParse("json", kind.String()+" config", err)
	}
	if err := validate.Struct(cfg); err != nil {
		return cfg, errors.WrapValidation(kind.String()+" config", err)
	}
	return cfg, nil
}
