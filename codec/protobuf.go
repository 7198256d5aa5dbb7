package codec

import "google.golang.org/protobuf/proto"

type Protobuf[T proto.Message] struct {
	new func() T // constructor for a concrete message (e.g., func() *mypb.User { return &mypb.User{} })
}

func NewProtobuf[T proto.Message](ctor func() T) Protobuf[T] {
	return Protobuf[T]{new: ctor}
}

func (c Protobuf[T]) Encode(v T) ([]byte, error) {
	return proto.Marshal(v)
}
func (c Protobuf[T]) Decode(b []byte) (T, error) {
	m := c.new()
	err := proto.Unmarshal(b, m)
	return m, err
}

// AnyCodec adapts c to Codec[any], for handles that store values boxed as
// any (handle/bigcache, handle/redis). Encode type-asserts its argument
// back to T; a value of the wrong concrete type is a caller bug and
// returns an error rather than panicking.
func (c Protobuf[T]) AnyCodec() Codec[any] {
	return protobufAny[T]{c}
}

type protobufAny[T proto.Message] struct {
	inner Protobuf[T]
}

func (a protobufAny[T]) Encode(v any) ([]byte, error) {
	m, ok := v.(T)
	if !ok {
		return nil, errWrongProtoType
	}
	return a.inner.Encode(m)
}

func (a protobufAny[T]) Decode(b []byte) (any, error) {
	return a.inner.Decode(b)
}

var errWrongProtoType = protoTypeError("codec: value is not the configured protobuf message type")

type protoTypeError string

func (e protoTypeError) Error() string { return string(e) }
