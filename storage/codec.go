package storage

import (
	"errors"

	"github.com/bytedance/sonic"
)

// codec is encoding/json compatible so records stay readable by any JSON
// tooling that inspects a tier's files or rows.
var codec = sonic.ConfigStd

var errNilEntry = errors.New("nil entry")

// Encode serializes e into its persisted form.
func Encode(e *Entry) ([]byte, error) {
	if e == nil {
		return nil, &Error{Code: InvalidValue, Op: "encode", Err: errNilEntry}
	}
	b, err := codec.Marshal(e)
	if err != nil {
		return nil, &Error{Code: InvalidValue, Op: "encode", Err: err}
	}
	return b, nil
}

// Decode parses a persisted record. Records without a payload or write
// timestamp are reported as corrupt.
func Decode(b []byte) (*Entry, error) {
	var e Entry
	if err := codec.Unmarshal(b, &e); err != nil {
		return nil, &Error{Code: InvalidValue, Op: "decode", Err: err}
	}
	if len(e.Data) == 0 || e.Timestamp <= 0 {
		return nil, &Error{Code: InvalidValue, Op: "decode", Err: errors.New("incomplete entry")}
	}
	return &e, nil
}

// EncodedSize estimates the bytes e occupies once persisted. It re-encodes
// the entry, so it costs O(len(payload)).
func EncodedSize(e *Entry) (int64, error) {
	b, err := Encode(e)
	if err != nil {
		return 0, err
	}
	return int64(len(b)), nil
}
