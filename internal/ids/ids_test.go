package ids

import (
	"encoding/json"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRejectsInvalidValues(t *testing.T) {
	cases := []string{"", "  ", "abc", "0", "-5"}
	for _, value := range cases {
		_, err := ParseEnvelopeID(value)
		assert.ErrorIs(t, err, ErrInvalidEnvelopeID, value)
	}
}

func TestIdentifiersRoundTripThroughJSON(t *testing.T) {
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	type payload struct {
		Envelope EnvelopeID `json:"envelope_id"`
		Signer   SignerID   `json:"signer_id"`
		Tenant   TenantID   `json:"tenant_id"`
	}
	in := payload{
		Envelope: NewEnvelopeID(node),
		Signer:   NewSignerID(node),
		Tenant:   TenantID(node.Generate()),
	}

	raw, err := json.Marshal(in)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"envelope_id":"`+in.Envelope.String()+`"`)

	var out payload
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, in, out)
}

func TestUnmarshalAcceptsNumbers(t *testing.T) {
	var id SignerID
	require.NoError(t, json.Unmarshal([]byte(`12345`), &id))
	assert.Equal(t, SignerID(12345), id)

	assert.ErrorIs(t, json.Unmarshal([]byte(`"nope"`), &id), ErrInvalidSignerID)
}

func TestGeneratedIDsAreOrdered(t *testing.T) {
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	first := NewEnvelopeID(node)
	second := NewEnvelopeID(node)
	assert.True(t, first.Valid())
	assert.Less(t, int64(first), int64(second))
}
