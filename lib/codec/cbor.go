// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	// time.Time fields are written as RFC 3339 strings with
	// nanoseconds so capture dumps stay human-readable in diagnostic
	// notation.
	encOptions.Time = cbor.TimeRFC3339Nano
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// Capture files are appended to by a process that may be
		// killed mid-write; bound item sizes so a corrupt length
		// prefix cannot demand gigabytes.
		MaxArrayElements: 1 << 20,
		MaxMapPairs:      1 << 16,
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v to CBOR using Core Deterministic Encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// Encoder is a CBOR stream encoder.
type Encoder = cbor.Encoder

// Decoder is a CBOR stream decoder.
type Decoder = cbor.Decoder

// NewEncoder returns a CBOR encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return encMode.NewEncoder(w)
}

// NewDecoder returns a CBOR decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return decMode.NewDecoder(r)
}

// DecodeSequence reads CBOR items from r until EOF, calling fn with
// each decoded value. A truncated trailing item is reported as
// io.ErrUnexpectedEOF wrapped with the index of the failing item.
func DecodeSequence[T any](r io.Reader, fn func(index int, item T) error) error {
	decoder := decMode.NewDecoder(r)
	for index := 0; ; index++ {
		var item T
		err := decoder.Decode(&item)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return &SequenceError{Index: index, Err: err}
		}
		if err := fn(index, item); err != nil {
			return err
		}
	}
}

// SequenceError reports a decode failure at a position in a CBOR
// sequence.
type SequenceError struct {
	Index int
	Err   error
}

func (e *SequenceError) Error() string {
	return fmt.Sprintf("codec: decoding sequence item %d: %v", e.Index, e.Err)
}

func (e *SequenceError) Unwrap() error { return e.Err }

// Diagnose returns the CBOR diagnostic notation (RFC 8949 §8) for the
// first data item in data, along with the remaining bytes.
func Diagnose(data []byte) (string, []byte, error) {
	return cbor.DiagnoseFirst(data)
}
