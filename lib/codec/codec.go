// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the CBOR encoding used for every wire payload
// in the library.
//
// Encoding follows Core Deterministic Encoding (RFC 8949 §4.2): sorted
// map keys, smallest integer encoding, no indefinite-length items.
// The same logical payload always produces identical bytes, which keeps
// message handling reproducible across peers and test runs. Decoding
// ignores unknown fields for forward compatibility, so a newer peer can
// extend a payload struct without breaking older receivers.
package codec

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

var encMode cbor.EncMode
var decMode cbor.DecMode

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// Wire payloads only ever use string map keys. When decoding
		// into an any-typed target, produce map[string]any rather than
		// the CBOR default map[any]any, which nothing downstream can
		// work with.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v deterministically.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// RawMessage is a raw encoded CBOR value, for callers that delay
// decoding or forward payloads untouched.
type RawMessage = cbor.RawMessage
