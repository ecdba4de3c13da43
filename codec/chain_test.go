package codec

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"
	"testing"
)

// prefixCodec tags payloads with a version prefix and rejects anything else.
// Stands in for two incompatible encoding schemes.
type prefixCodec struct{ prefix string }

func (c prefixCodec) Encode(s string) ([]byte, error) { return []byte(c.prefix + s), nil }
func (c prefixCodec) Decode(b []byte) (string, error) {
	if !bytes.HasPrefix(b, []byte(c.prefix)) {
		return "", fmt.Errorf("missing %q prefix", c.prefix)
	}
	return string(b[len(c.prefix):]), nil
}

// brokenCodec fails every Encode; Decode is the identity.
type brokenCodec struct{}

func (brokenCodec) Encode(string) ([]byte, error) { return nil, errors.New("unrepresentable") }
func (brokenCodec) Decode(b []byte) (string, error) {
	return string(b), nil
}

func TestChainDecodeFallsBackToLegacy(t *testing.T) {
	oldc := prefixCodec{prefix: "v1:"}
	newc := prefixCodec{prefix: "v2:"}

	legacy, err := oldc.Encode("hello")
	if err != nil {
		t.Fatalf("legacy encode: %v", err)
	}

	ch := Chain[string]{Primary: newc, Legacy: oldc}
	got, fellBack, err := ch.DecodeFallback(legacy)
	if err != nil {
		t.Fatalf("DecodeFallback: %v", err)
	}
	if got != "hello" || !fellBack {
		t.Fatalf("got=%q fellBack=%v, want hello via legacy", got, fellBack)
	}

	// Fresh writes decode through the primary.
	fresh, err := ch.Encode("hola")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, fellBack, err = ch.DecodeFallback(fresh)
	if err != nil || got != "hola" || fellBack {
		t.Fatalf("primary decode: got=%q fellBack=%v err=%v", got, fellBack, err)
	}
}

func TestChainDecodeWithoutLegacyNormalizes(t *testing.T) {
	oldc := prefixCodec{prefix: "v1:"}
	legacy, _ := oldc.Encode("hello")

	ch := Chain[string]{Primary: prefixCodec{prefix: "v2:"}}
	_, err := ch.Decode(legacy)
	var derr *DecodingError
	if !errors.As(err, &derr) {
		t.Fatalf("want *DecodingError, got %T: %v", err, err)
	}
}

func TestChainDecodeBothFailJoinsCauses(t *testing.T) {
	ch := Chain[string]{
		Primary: prefixCodec{prefix: "v2:"},
		Legacy:  prefixCodec{prefix: "v1:"},
	}
	_, _, err := ch.DecodeFallback([]byte("unversioned"))
	var derr *DecodingError
	if !errors.As(err, &derr) {
		t.Fatalf("want *DecodingError, got %T: %v", err, err)
	}
	// Both causes must survive the join.
	for _, want := range []string{"v2:", "v1:"} {
		if !bytes.Contains([]byte(derr.Err.Error()), []byte(want)) {
			t.Fatalf("joined cause missing %q: %v", want, derr.Err)
		}
	}
}

func TestChainEncodeFallsBackToLegacy(t *testing.T) {
	ch := Chain[string]{Primary: brokenCodec{}, Legacy: prefixCodec{prefix: "v1:"}}
	b, err := ch.Encode("payload")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if string(b) != "v1:payload" {
		t.Fatalf("Encode via legacy: got %q", b)
	}

	// Without a legacy codec the failure is normalized.
	ch = Chain[string]{Primary: brokenCodec{}}
	_, err = ch.Encode("payload")
	var eerr *EncodingError
	if !errors.As(err, &eerr) {
		t.Fatalf("want *EncodingError, got %T: %v", err, err)
	}
}

// TestChainAcrossRealCodecs replays an encoding migration with the shipped
// codecs: values written as JSON keep decoding after the primary moves to
// Msgpack, and fail once the JSON fallback is dropped.
func TestChainAcrossRealCodecs(t *testing.T) {
	type setting struct {
		Name string   `json:"name" msgpack:"name"`
		Tags []string `json:"tags" msgpack:"tags"`
	}
	v := setting{Name: "greeting ☃", Tags: []string{"a", "b"}}

	old, err := JSON[setting]{}.Encode(v)
	if err != nil {
		t.Fatalf("json encode: %v", err)
	}

	with := Chain[setting]{Primary: Msgpack[setting]{}, Legacy: JSON[setting]{}}
	got, fellBack, err := with.DecodeFallback(old)
	if err != nil || !fellBack {
		t.Fatalf("decode json payload via fallback: fellBack=%v err=%v", fellBack, err)
	}
	if !reflect.DeepEqual(got, v) {
		t.Fatalf("got %+v want %+v", got, v)
	}

	without := Chain[setting]{Primary: Msgpack[setting]{}}
	var derr *DecodingError
	if _, err := without.Decode(old); !errors.As(err, &derr) {
		t.Fatalf("want *DecodingError without fallback, got %v", err)
	}
}

// TestCodecRoundTrip covers the shipped general-purpose codecs with a value
// holding integers, strings, nested sequences, and unicode text.
func TestCodecRoundTrip(t *testing.T) {
	type inner struct {
		Seq []int  `json:"seq" msgpack:"seq" cbor:"seq"`
		Txt string `json:"txt" msgpack:"txt" cbor:"txt"`
	}
	type payload struct {
		N      int64    `json:"n" msgpack:"n" cbor:"n"`
		Name   string   `json:"name" msgpack:"name" cbor:"name"`
		Nested []inner  `json:"nested" msgpack:"nested" cbor:"nested"`
		Words  []string `json:"words" msgpack:"words" cbor:"words"`
	}
	v := payload{
		N:      42,
		Name:   "snögubbe ☃",
		Nested: []inner{{Seq: []int{1, 2, 3}, Txt: "first"}, {Seq: nil, Txt: ""}},
		Words:  []string{"uno", "dos"},
	}

	codecs := map[string]Codec[payload]{
		"json":    JSON[payload]{},
		"msgpack": Msgpack[payload]{},
		"cbor":    MustCBOR[payload](false),
	}
	for name, c := range codecs {
		t.Run(name, func(t *testing.T) {
			b, err := c.Encode(v)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			got, err := c.Decode(b)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if !reflect.DeepEqual(got, v) {
				t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, v)
			}
		})
	}
}
