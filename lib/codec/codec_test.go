// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"
)

func TestMarshalDeterministic(t *testing.T) {
	payload := map[string]any{
		"zulu":  1,
		"alpha": "value",
		"mike":  []byte{0x01, 0x02},
	}

	first, err := Marshal(payload)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	second, err := Marshal(payload)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Error("identical payloads produced different encodings")
	}
}

func TestUnmarshalIgnoresUnknownFields(t *testing.T) {
	full := struct {
		RequestID string `cbor:"request_id"`
		Extra     string `cbor:"extra"`
	}{RequestID: "r1", Extra: "future field"}

	data, err := Marshal(full)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var narrow struct {
		RequestID string `cbor:"request_id"`
	}
	if err := Unmarshal(data, &narrow); err != nil {
		t.Fatalf("Unmarshal with unknown field: %v", err)
	}
	if narrow.RequestID != "r1" {
		t.Errorf("RequestID = %q, want %q", narrow.RequestID, "r1")
	}
}

func TestUnmarshalAnyUsesStringKeyedMaps(t *testing.T) {
	data, err := Marshal(map[string]any{"key": "value"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded any
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if _, ok := decoded.(map[string]any); !ok {
		t.Errorf("decoded type = %T, want map[string]any", decoded)
	}
}
