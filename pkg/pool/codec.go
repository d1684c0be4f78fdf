package pool

import (
	"bytes"
	"encoding/gob"
)

// anyBox carries an any-typed payload through gob. A struct field of
// interface type is what makes gob emit (and expect) the concrete-type
// header described in encoding/gob's documentation on interface values;
// encoding a bare any top-level loses that, so every Apply/Map argument and
// result is boxed through this type.
type anyBox struct{ V any }

// EncodeArg gob-encodes v for TaskEnvelope.Arg / ResultEnvelope.Value.
func EncodeArg(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(anyBox{V: v}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeArg is EncodeArg's inverse.
func DecodeArg(b []byte) (any, error) {
	var box anyBox
	if len(b) == 0 {
		return nil, nil
	}
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&box); err != nil {
		return nil, err
	}
	return box.V, nil
}
