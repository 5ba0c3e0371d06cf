package fields_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/fieldsync/pkg/errors"
	"github.com/agentstation/fieldsync/pkg/fields"
)

func TestDefaultRegistry(t *testing.T) {
	r, err := fields.Default()
	require.NoError(t, err)

	assert.Equal(t, []string{"organization", "person", "product"}, r.Kinds())

	key, err := r.KeyField("organization")
	require.NoError(t, err)
	assert.Equal(t, "name", key.Name)

	key, err = r.KeyField("person")
	require.NoError(t, err)
	assert.Equal(t, "email", key.Name)

	am, err := r.Field("organization", "account_manager")
	require.NoError(t, err)
	require.NotNil(t, am.Reference)
	assert.Equal(t, fields.Junction, am.Reference.Storage)
	assert.Equal(t, "person", am.Reference.Entity)
	assert.Equal(t, "account_manager", am.Reference.Role)

	org, err := r.Field("product", "organization")
	require.NoError(t, err)
	assert.Equal(t, fields.Direct, org.Reference.Storage)

	fs, err := r.Fields("product")
	require.NoError(t, err)
	assert.NotEmpty(t, fs)
}

func TestLookupsOnUnknown(t *testing.T) {
	r, err := fields.Default()
	require.NoError(t, err)

	_, err = r.Fields("vendor")
	assert.True(t, errors.IsNotFound(err))
	_, err = r.Field("person", "shoe_size")
	assert.True(t, errors.IsNotFound(err))
}

func TestValidateRules(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"no key", `
kinds:
  - name: a
    fields:
      - {name: x, type: text}
`},
		{"two keys", `
kinds:
  - name: a
    fields:
      - {name: x, type: text, key: true}
      - {name: y, type: text, key: true}
`},
		{"unknown type", `
kinds:
  - name: a
    fields:
      - {name: x, type: blob, key: true}
`},
		{"unknown target", `
kinds:
  - name: a
    fields:
      - {name: x, type: text, key: true}
      - {name: r, type: reference, reference: {entity: b, match_field: x, storage: direct}}
`},
		{"unknown match field", `
kinds:
  - name: a
    fields:
      - {name: x, type: text, key: true}
      - {name: r, type: reference, reference: {entity: a, match_field: nope, storage: direct}}
`},
		{"junction without role", `
kinds:
  - name: a
    fields:
      - {name: x, type: text, key: true}
      - {name: r, type: reference, reference: {entity: a, match_field: x, storage: junction}}
`},
		{"duplicate field", `
kinds:
  - name: a
    fields:
      - {name: x, type: text, key: true}
      - {name: x, type: number}
`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := fields.Load([]byte(tt.yaml))
			assert.True(t, errors.IsValidationError(err), "got %v", err)
		})
	}
}

func TestLoadFileExtendsBuiltins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "extra.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
kinds:
  - name: vendor
    label: Vendor
    fields:
      - {name: code, type: text, key: true}
      - {name: owner, type: reference, reference: {entity: person, match_field: email, storage: direct}}
`), 0o600))

	r, err := fields.LoadFile(path)
	require.NoError(t, err)
	assert.Contains(t, r.Kinds(), "vendor")
	assert.Contains(t, r.Kinds(), "organization")

	_, err = fields.LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, errors.IsConfigError(err))
}

func TestLoadRejectsBadYAML(t *testing.T) {
	_, err := fields.Load([]byte("kinds: [: :"))
	var pe *errors.ParseError
	assert.ErrorAs(t, err, &pe)
}
