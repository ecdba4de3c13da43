// Package codec defines how values cross the storage boundary.
//
// A Codec turns values of type V into the []byte an adapter persists and
// back. Concrete codecs (JSON, Msgpack, CBOR, Protobuf, ...) return their
// library's raw errors; Chain normalizes every failure into exactly two
// kinds, EncodingError and DecodingError, and adds the legacy-fallback
// behavior used for encoding migrations.
package codec

// Codec encodes/decodes values V to []byte for storage.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}

// EncodingError reports that a value could not be encoded by any configured
// codec. Unwrap exposes the underlying cause(s).
type EncodingError struct {
	Err error
}

func (e *EncodingError) Error() string { return "codec: encode: " + e.Err.Error() }
func (e *EncodingError) Unwrap() error { return e.Err }

// DecodingError reports that stored bytes could not be decoded by any
// configured codec. Unwrap exposes the underlying cause(s).
type DecodingError struct {
	Err error
}

func (e *DecodingError) Error() string { return "codec: decode: " + e.Err.Error() }
func (e *DecodingError) Unwrap() error { return e.Err }
