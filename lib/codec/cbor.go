// Copyright 2026 The Companion Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"reflect"
	"strconv"

	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		// Values decoded into any must be usable with encoding/json,
		// which cannot marshal map[interface{}]interface{}.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
		// *big.Int marshals to a JSON number; big.Int does not.
		BigIntDec: cbor.BigIntDecodePointer,
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v using Core Deterministic Encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// NewEncoder returns a deterministic CBOR stream encoder.
func NewEncoder(w io.Writer) *cbor.Encoder {
	return encMode.NewEncoder(w)
}

// NewDecoder returns a CBOR stream decoder.
func NewDecoder(r io.Reader) *cbor.Decoder {
	return decMode.NewDecoder(r)
}

// ErrNumberOutOfRange is returned by [FromJSON] for a non-integral
// number that float64 cannot represent.
var ErrNumberOutOfRange = errors.New("codec: number out of range")

// FromJSON converts a JSON document to canonical CBOR. Integral numbers
// become CBOR integers, or bignums beyond 64 bits, so that they survive
// the round trip exactly; everything else keeps its JSON type.
func FromJSON(document []byte) ([]byte, error) {
	decoder := json.NewDecoder(bytes.NewReader(document))
	decoder.UseNumber()
	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, fmt.Errorf("codec: parsing JSON: %w", err)
	}
	if decoder.More() {
		return nil, fmt.Errorf("codec: trailing data after JSON value")
	}
	normalized, err := normalizeNumbers(value)
	if err != nil {
		return nil, err
	}
	return Marshal(normalized)
}

// ToJSON converts CBOR produced by FromJSON back to compact JSON.
func ToJSON(data []byte) (json.RawMessage, error) {
	var value any
	if err := Unmarshal(data, &value); err != nil {
		return nil, fmt.Errorf("codec: decoding CBOR: %w", err)
	}
	document, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("codec: encoding JSON: %w", err)
	}
	return document, nil
}

func normalizeNumbers(value any) (any, error) {
	switch typed := value.(type) {
	case json.Number:
		return normalizeNumber(typed)
	case map[string]any:
		for key, element := range typed {
			normalized, err := normalizeNumbers(element)
			if err != nil {
				return nil, err
			}
			typed[key] = normalized
		}
		return typed, nil
	case []any:
		for index, element := range typed {
			normalized, err := normalizeNumbers(element)
			if err != nil {
				return nil, err
			}
			typed[index] = normalized
		}
		return typed, nil
	default:
		return value, nil
	}
}

func normalizeNumber(number json.Number) (any, error) {
	if integer, err := number.Int64(); err == nil {
		return integer, nil
	}
	if unsigned, err := strconv.ParseUint(number.String(), 10, 64); err == nil {
		return unsigned, nil
	}
	if integer, ok := new(big.Int).SetString(number.String(), 10); ok {
		return integer, nil
	}
	float, err := number.Float64()
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNumberOutOfRange, number)
	}
	return float, nil
}
