package wallet

import (
	"encoding/base64"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// envelopeVersion is authenticated as part of the AAD, so bumping it
// invalidates every sealed key written under the old layout.
const envelopeVersion byte = 0x01

// envelope is the stored form of a sealed private key. It is CBOR-encoded
// with core deterministic options and then base64url'd so it fits a text
// column.
type envelope struct {
	Version    byte   `cbor:"1,keyasint"`
	Nonce      []byte `cbor:"2,keyasint"`
	Ciphertext []byte `cbor:"3,keyasint"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("wallet: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyEnforcedAPF,
		MaxMapPairs: 16,
	}.DecMode()
	if err != nil {
		panic("wallet: CBOR decoder initialization failed: " + err.Error())
	}
}

func encodeEnvelope(env envelope) (string, error) {
	data, err := encMode.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("encoding sealed key: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

func decodeEnvelope(s string) (envelope, error) {
	var env envelope

	data, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return env, fmt.Errorf("decoding sealed key: %w", err)
	}
	if err := decMode.Unmarshal(data, &env); err != nil {
		return env, fmt.Errorf("decoding sealed key: %w", err)
	}
	if env.Version != envelopeVersion {
		return env, fmt.Errorf("sealed key version %d is not supported (expected %d)", env.Version, envelopeVersion)
	}
	return env, nil
}
