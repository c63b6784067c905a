// Package ids provides validated identifier types for the signing core.
// Each identifier wraps a snowflake id so that envelope, signer, token and
// tenant ids cannot be mixed up at compile time.
package ids

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrInvalidEnvelopeID  = errors.New("invalid_envelope_id")
	ErrInvalidSignerID    = errors.New("invalid_signer_id")
	ErrInvalidTokenID     = errors.New("invalid_invitation_token_id")
	ErrInvalidTenantID    = errors.New("invalid_tenant_id")
	ErrInvalidSignatureID = errors.New("invalid_signature_id")
)

type EnvelopeID int64

type SignerID int64

type InvitationTokenID int64

type TenantID int64

type SignatureID int64

func NewEnvelopeID(node *snowflake.Node) EnvelopeID { return EnvelopeID(node.Generate()) }

func NewSignerID(node *snowflake.Node) SignerID { return SignerID(node.Generate()) }

func NewInvitationTokenID(node *snowflake.Node) InvitationTokenID {
	return InvitationTokenID(node.Generate())
}

func NewSignatureID(node *snowflake.Node) SignatureID { return SignatureID(node.Generate()) }

func ParseEnvelopeID(value string) (EnvelopeID, error) {
	id, err := parse(value, ErrInvalidEnvelopeID)
	return EnvelopeID(id), err
}

func ParseSignerID(value string) (SignerID, error) {
	id, err := parse(value, ErrInvalidSignerID)
	return SignerID(id), err
}

func ParseInvitationTokenID(value string) (InvitationTokenID, error) {
	id, err := parse(value, ErrInvalidTokenID)
	return InvitationTokenID(id), err
}

func ParseTenantID(value string) (TenantID, error) {
	id, err := parse(value, ErrInvalidTenantID)
	return TenantID(id), err
}

func ParseSignatureID(value string) (SignatureID, error) {
	id, err := parse(value, ErrInvalidSignatureID)
	return SignatureID(id), err
}

func (id EnvelopeID) String() string        { return snowflake.ID(id).String() }
func (id SignerID) String() string          { return snowflake.ID(id).String() }
func (id InvitationTokenID) String() string { return snowflake.ID(id).String() }
func (id TenantID) String() string          { return snowflake.ID(id).String() }
func (id SignatureID) String() string       { return snowflake.ID(id).String() }

func (id EnvelopeID) Valid() bool        { return id > 0 }
func (id SignerID) Valid() bool          { return id > 0 }
func (id InvitationTokenID) Valid() bool { return id > 0 }
func (id TenantID) Valid() bool          { return id > 0 }
func (id SignatureID) Valid() bool       { return id > 0 }

func (id EnvelopeID) MarshalJSON() ([]byte, error)        { return marshal(int64(id)) }
func (id SignerID) MarshalJSON() ([]byte, error)          { return marshal(int64(id)) }
func (id InvitationTokenID) MarshalJSON() ([]byte, error) { return marshal(int64(id)) }
func (id TenantID) MarshalJSON() ([]byte, error)          { return marshal(int64(id)) }
func (id SignatureID) MarshalJSON() ([]byte, error)       { return marshal(int64(id)) }

func (id *EnvelopeID) UnmarshalJSON(b []byte) error {
	v, err := unmarshal(b, ErrInvalidEnvelopeID)
	*id = EnvelopeID(v)
	return err
}

func (id *SignerID) UnmarshalJSON(b []byte) error {
	v, err := unmarshal(b, ErrInvalidSignerID)
	*id = SignerID(v)
	return err
}

func (id *InvitationTokenID) UnmarshalJSON(b []byte) error {
	v, err := unmarshal(b, ErrInvalidTokenID)
	*id = InvitationTokenID(v)
	return err
}

func (id *TenantID) UnmarshalJSON(b []byte) error {
	v, err := unmarshal(b, ErrInvalidTenantID)
	*id = TenantID(v)
	return err
}

func (id *SignatureID) UnmarshalJSON(b []byte) error {
	v, err := unmarshal(b, ErrInvalidSignatureID)
	*id = SignatureID(v)
	return err
}

func parse(value string, invalid error) (int64, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id <= 0 {
		return 0, invalid
	}
	return int64(id), nil
}

func marshal(v int64) ([]byte, error) {
	return json.Marshal(snowflake.ID(v).String())
}

func unmarshal(b []byte, invalid error) (int64, error) {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		var num int64
		if numErr := json.Unmarshal(b, &num); numErr != nil || num <= 0 {
			return 0, invalid
		}
		return num, nil
	}
	return parse(raw, invalid)
}
