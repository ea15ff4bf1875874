package fhecrypto

import (
	"encoding/base64"

	"github.com/tuneinsight/lattigo/v5/core/rlwe"
	"github.com/tuneinsight/lattigo/v5/multiparty"

	"github.com/maFHEa/engine/internal/apperr"
)

// Every wire value the engine sends over HTTP is the object's lattigo
// binary encoding, base64-standard-encoded so it round-trips through JSON
// string fields untouched. None of these helpers touch the network
// themselves — internal/rpc and internal/rpcclient own the HTTP envelope
// and call these only to get/parse the payload field.

// Serialize returns ct's base64-encoded binary form.
func (ct *Ciphertext) Serialize() (string, error) {
	raw, err := ct.ct.MarshalBinary()
	if err != nil {
		return "", apperr.NewFheCryptoError("serialize_ciphertext", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DeserializeCiphertext parses a base64-encoded ciphertext.
func DeserializeCiphertext(s string) (*Ciphertext, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, apperr.NewFheCryptoError("deserialize_ciphertext", err)
	}
	ct := new(rlwe.Ciphertext)
	if err := ct.UnmarshalBinary(raw); err != nil {
		return nil, apperr.NewFheCryptoError("deserialize_ciphertext", err)
	}
	return &Ciphertext{ct: ct}, nil
}

// SerializeParams returns c's ring parameters in wire form, the
// crypto_context payload dkg_setup carries. A receiving peer never needs
// to deserialize it to participate correctly — bgv parameters are a pure
// function of numPlayers (see NewContext) — but it travels anyway so a
// peer can assert its own locally-derived parameters match the
// coordinator's before joining the key chain.
func (c *Context) SerializeParams() (string, error) {
	raw, err := c.Params.MarshalBinary()
	if err != nil {
		return "", apperr.NewFheCryptoError("serialize_params", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// Serialize returns pt's base64-encoded binary form. No RPC carries a
// plaintext and the game log stores decoded integer vectors, so nothing in
// this module calls it.
func (pt *Plaintext) Serialize() (string, error) {
	raw, err := pt.pt.MarshalBinary()
	if err != nil {
		return "", apperr.NewFheCryptoError("serialize_plaintext", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// SerializePublicKey returns pk's base64-encoded binary form.
func SerializePublicKey(pk *rlwe.PublicKey) (string, error) {
	raw, err := pk.MarshalBinary()
	if err != nil {
		return "", apperr.NewFheCryptoError("serialize_public_key", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DeserializePublicKey parses a base64-encoded joint public key.
func DeserializePublicKey(s string) (*rlwe.PublicKey, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, apperr.NewFheCryptoError("deserialize_public_key", err)
	}
	pk := new(rlwe.PublicKey)
	if err := pk.UnmarshalBinary(raw); err != nil {
		return nil, apperr.NewFheCryptoError("deserialize_public_key", err)
	}
	return pk, nil
}

// SerializeRelinKey returns the joint relinearization key's base64-encoded
// binary form.
func SerializeRelinKey(rlk *rlwe.RelinearizationKey) (string, error) {
	raw, err := rlk.MarshalBinary()
	if err != nil {
		return "", apperr.NewFheCryptoError("serialize_relin_key", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DeserializeRelinKey parses a base64-encoded joint relinearization key.
func DeserializeRelinKey(s string) (*rlwe.RelinearizationKey, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, apperr.NewFheCryptoError("deserialize_relin_key", err)
	}
	rlk := new(rlwe.RelinearizationKey)
	if err := rlk.UnmarshalBinary(raw); err != nil {
		return nil, apperr.NewFheCryptoError("deserialize_relin_key", err)
	}
	return rlk, nil
}

// Serialize returns p's base64-encoded binary form, the wire form every
// partial_decrypt / investigate_parallel / relay_decrypt response carries.
func (p *PartialDecryption) Serialize() (string, error) {
	return SerializeShare(&p.share)
}

// Serialize returns s's round-1 relin-key share in wire form. s's ephemeral
// secret key never travels with it — each party keeps its own ephSk local
// and only re-uses it in that same party's own round 2 call.
func (s *KeySwitchGenShare) Serialize() (string, error) {
	return SerializeShare(&s.share)
}

// DeserializeKeySwitchGenShare parses a round-1 relin-key share off the
// wire: a peer's share for CombineKeySwitchKeys, or the combined KS* a peer
// receives for GenerateMultMultKey. The returned value has no ephSk, so it
// never stands in for a party's own round-1 share.
func DeserializeKeySwitchGenShare(s string) (*KeySwitchGenShare, error) {
	var share multiparty.RelinearizationKeyGenShare
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, apperr.NewFheCryptoError("deserialize_keyswitchgen_share", err)
	}
	if err := share.UnmarshalBinary(raw); err != nil {
		return nil, apperr.NewFheCryptoError("deserialize_keyswitchgen_share", err)
	}
	return &KeySwitchGenShare{share: share}, nil
}

// Serialize returns s's round-2 relin-key share in wire form.
func (s *MultMultKeyShare) Serialize() (string, error) {
	return SerializeShare(&s.share)
}

// DeserializeMultMultKeyShare parses a peer's round-2 relin-key share.
func DeserializeMultMultKeyShare(s string) (*MultMultKeyShare, error) {
	var share multiparty.RelinearizationKeyGenShare
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, apperr.NewFheCryptoError("deserialize_multmultkey_share", err)
	}
	if err := share.UnmarshalBinary(raw); err != nil {
		return nil, apperr.NewFheCryptoError("deserialize_multmultkey_share", err)
	}
	return &MultMultKeyShare{share: share}, nil
}

// Serialize returns s's round-1 public-key share in wire form.
func (s *PublicKeyGenShare) Serialize() (string, error) {
	return SerializeShare(&s.share)
}

// SerializeShare covers every DKG and partial-decryption share exchanged
// during setup and reveal: PublicKeyGenShare, KeySwitchGenShare's
// RelinearizationKeyGenShare, MultMultKeyShare's RelinearizationKeyGenShare,
// and PartialDecryption's KeySwitchShare, every one of which implements
// encoding.BinaryMarshaler in lattigo.
func SerializeShare(m encodingBinaryMarshaler) (string, error) {
	raw, err := m.MarshalBinary()
	if err != nil {
		return "", apperr.NewFheCryptoError("serialize_share", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

type encodingBinaryMarshaler interface {
	MarshalBinary() ([]byte, error)
}

// DeserializePublicKeyGenShare parses a base64-encoded round-1 CKG share.
func DeserializePublicKeyGenShare(s string) (*PublicKeyGenShare, error) {
	var share multiparty.PublicKeyGenShare
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, apperr.NewFheCryptoError("deserialize_public_key_gen_share", err)
	}
	if err := share.UnmarshalBinary(raw); err != nil {
		return nil, apperr.NewFheCryptoError("deserialize_public_key_gen_share", err)
	}
	return &PublicKeyGenShare{share: share}, nil
}

// DeserializeKeySwitchShare parses a base64-encoded partial-decryption
// share (used for both PartialDecryptLead and PartialDecryptMain).
func DeserializeKeySwitchShare(s string) (*PartialDecryption, error) {
	var share multiparty.KeySwitchShare
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, apperr.NewFheCryptoError("deserialize_keyswitch_share", err)
	}
	if err := share.UnmarshalBinary(raw); err != nil {
		return nil, apperr.NewFheCryptoError("deserialize_keyswitch_share", err)
	}
	return &PartialDecryption{share: share}, nil
}
