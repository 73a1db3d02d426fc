package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glimte/canvasbridge/contracts"
)

func TestNewCatalogueValidator(t *testing.T) {
	v, err := NewCatalogueValidator()
	require.NoError(t, err)

	types := v.Types()
	assert.Len(t, types, len(contracts.Catalogue()))
	assert.Contains(t, types, contracts.CreateFrame)

	source, ok := v.Schema(contracts.DeleteNode)
	require.True(t, ok)
	assert.True(t, json.Valid(source))
}

func TestValidatorValidate(t *testing.T) {
	v, err := NewCatalogueValidator()
	require.NoError(t, err)

	tests := []struct {
		name        string
		commandType string
		params      string
		valid       bool
	}{
		{"frame with size", contracts.CreateFrame, `{"width":100,"height":50}`, true},
		{"frame with position", contracts.CreateFrame, `{"name":"Card","x":0,"y":10,"width":1,"height":1}`, true},
		{"frame missing height", contracts.CreateFrame, `{"width":100}`, false},
		{"frame zero width", contracts.CreateFrame, `{"width":0,"height":1}`, false},
		{"frame string width", contracts.CreateFrame, `{"width":"wide","height":1}`, false},
		{"text required", contracts.CreateText, `{}`, false},
		{"text ok", contracts.CreateText, `{"text":"hello"}`, true},
		{"delete empty id", contracts.DeleteNode, `{"nodeId":""}`, false},
		{"move ok", contracts.MoveNode, `{"nodeId":"1:2","x":-5,"y":3.5}`, true},
		{"fill channel out of range", contracts.SetFill, `{"nodeId":"1:2","color":{"r":2,"g":0,"b":0}}`, false},
		{"fill ok", contracts.SetFill, `{"nodeId":"1:2","color":{"r":1,"g":0.5,"b":0,"a":0.2}}`, true},
		{"selection empty params", contracts.GetSelection, ``, true},
		{"unknown type passes", "SOMETHING_NEW", `{"anything":true}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(tt.commandType, json.RawMessage(tt.params))
			if tt.valid {
				assert.NoError(t, err)
				return
			}
			var validation *contracts.ValidationError
			require.ErrorAs(t, err, &validation)
			assert.Equal(t, tt.commandType, validation.Type)
			assert.NotEmpty(t, validation.Details)
			assert.Equal(t, contracts.KindValidation, contracts.ErrorKind(err))
		})
	}
}

func TestValidatorStrictTypes(t *testing.T) {
	v, err := NewCatalogueValidator(WithStrictTypes())
	require.NoError(t, err)

	err = v.Validate("SOMETHING_NEW", json.RawMessage(`{}`))
	var validation *contracts.ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, []string{"unknown command type"}, validation.Details)
}

func TestValidatorRegisterSchema(t *testing.T) {
	t.Run("rejects invalid schema", func(t *testing.T) {
		v := NewValidator()
		err := v.RegisterSchema("BROKEN", `{"type": 42}`)
		assert.Error(t, err)
		_, ok := v.Schema("BROKEN")
		assert.False(t, ok)
	})

	t.Run("rejects empty type", func(t *testing.T) {
		assert.Error(t, NewValidator().RegisterSchema("", `{"type":"object"}`))
	})

	t.Run("replaces existing schema", func(t *testing.T) {
		v := NewValidator()
		require.NoError(t, v.RegisterSchema("PING", `{"type":"object","required":["a"]}`))
		assert.Error(t, v.Validate("PING", json.RawMessage(`{}`)))

		require.NoError(t, v.RegisterSchema("PING", `{"type":"object"}`))
		assert.NoError(t, v.Validate("PING", json.RawMessage(`{}`)))
	})

	t.Run("malformed params fail validation", func(t *testing.T) {
		v := NewValidator()
		require.NoError(t, v.RegisterSchema("PING", `{"type":"object"}`))
		err := v.Validate("PING", json.RawMessage(`{not json`))
		assert.Equal(t, contracts.KindValidation, contracts.ErrorKind(err))
	})
}
