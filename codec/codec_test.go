package codec

import (
	"strings"
	"testing"

	"google.golang.org/protobuf/types/known/wrapperspb"
)

type codecCase struct {
	name string
	c    Codec[string]
}

func TestRoundTrip(t *testing.T) {
	cases := []codecCase{
		{"json", JSONCodec[string]{}},
		{"cbor", MustCBOR[string](false)},
		{"cbor-deterministic", MustCBOR[string](true)},
		{"msgpack", Msgpack[string]{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b, err := tc.c.Encode("hello")
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			got, err := tc.c.Decode(b)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if got != "hello" {
				t.Fatalf("round trip = %q, want hello", got)
			}
		})
	}
}

func TestBytesAndStringIdentityCodecs(t *testing.T) {
	bc := Bytes{}
	b, _ := bc.Encode([]byte("raw"))
	if string(b) != "raw" {
		t.Fatalf("Bytes.Encode = %q, want raw", b)
	}
	if got, _ := bc.Decode(b); string(got) != "raw" {
		t.Fatalf("Bytes.Decode = %q, want raw", got)
	}

	sc := String{}
	b, _ = sc.Encode("text")
	if got, _ := sc.Decode(b); got != "text" {
		t.Fatalf("String round trip = %q, want text", got)
	}
}

func TestLimitCodecRejectsOversizedPayload(t *testing.T) {
	lc := LimitCodec[string]{Inner: JSONCodec[string]{}, MaxDecode: 4}
	big, err := JSONCodec[string]{}.Encode(strings.Repeat("x", 100))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if _, err := lc.Decode(big); err == nil {
		t.Fatalf("Decode of an oversized payload should fail")
	}

	small, _ := JSONCodec[string]{}.Encode("ok")
	if _, err := lc.Decode(small); err != nil {
		t.Fatalf("Decode of a payload within the limit should succeed: %v", err)
	}
}

func TestLimitCodecDisabledWhenMaxDecodeIsZero(t *testing.T) {
	lc := LimitCodec[string]{Inner: JSONCodec[string]{}, MaxDecode: 0}
	big, _ := JSONCodec[string]{}.Encode(strings.Repeat("x", 10000))
	if _, err := lc.Decode(big); err != nil {
		t.Fatalf("Decode with MaxDecode<=0 should never reject on size: %v", err)
	}
}

func TestProtobufRoundTripAndAnyCodec(t *testing.T) {
	pc := NewProtobuf(func() *wrapperspb.StringValue { return &wrapperspb.StringValue{} })

	msg := wrapperspb.String("payload")
	b, err := pc.Encode(msg)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	got, err := pc.Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.GetValue() != "payload" {
		t.Fatalf("Decode().GetValue() = %q, want payload", got.GetValue())
	}

	anyCodec := pc.AnyCodec()
	ab, err := anyCodec.Encode(msg)
	if err != nil {
		t.Fatalf("AnyCodec Encode: %v", err)
	}
	adecoded, err := anyCodec.Decode(ab)
	if err != nil {
		t.Fatalf("AnyCodec Decode: %v", err)
	}
	sv, ok := adecoded.(*wrapperspb.StringValue)
	if !ok || sv.GetValue() != "payload" {
		t.Fatalf("AnyCodec round trip = %#v, want *wrapperspb.StringValue{payload}", adecoded)
	}
}

func TestProtobufAnyCodecRejectsWrongType(t *testing.T) {
	pc := NewProtobuf(func() *wrapperspb.StringValue { return &wrapperspb.StringValue{} })
	anyCodec := pc.AnyCodec()
	if _, err := anyCodec.Encode(wrapperspb.Int32(7)); err == nil {
		t.Fatalf("Encode with a mismatched concrete message type should fail")
	}
}
