package codec

import "errors"

// Chain is a Codec with a fallback, for switching encodings without a data
// migration: configure the new codec as Primary and the previous one as
// Legacy, and values written under either encoding keep decoding while new
// writes use Primary.
//
// Decode tries Primary and retries with Legacy on failure; Encode uses
// Primary and retries with Legacy only when Primary cannot represent the
// value. Errors are normalized: a Chain never returns anything but
// *EncodingError / *DecodingError. When both codecs fail, the wrapped cause
// joins both failures.
//
// Legacy may be nil, in which case Chain is just the normalizing wrapper
// around Primary.
type Chain[V any] struct {
	Primary Codec[V]
	Legacy  Codec[V]
}

var _ Codec[string] = Chain[string]{}

func (c Chain[V]) Encode(v V) ([]byte, error) {
	b, err := c.Primary.Encode(v)
	if err == nil {
		return b, nil
	}
	if c.Legacy == nil {
		return nil, &EncodingError{Err: err}
	}
	b, lerr := c.Legacy.Encode(v)
	if lerr != nil {
		return nil, &EncodingError{Err: errors.Join(err, lerr)}
	}
	return b, nil
}

func (c Chain[V]) Decode(b []byte) (V, error) {
	v, _, err := c.DecodeFallback(b)
	return v, err
}

// DecodeFallback is Decode plus a flag reporting whether the Legacy codec
// produced the value.
func (c Chain[V]) DecodeFallback(b []byte) (v V, fellBack bool, err error) {
	v, perr := c.Primary.Decode(b)
	if perr == nil {
		return v, false, nil
	}
	var zero V
	if c.Legacy == nil {
		return zero, false, &DecodingError{Err: perr}
	}
	v, lerr := c.Legacy.Decode(b)
	if lerr != nil {
		return zero, false, &DecodingError{Err: errors.Join(perr, lerr)}
	}
	return v, true, nil
}
