package cacheinfra

import (
	"github.com/vmihailenco/msgpack/v5"
)

// Codec turns cached values into bytes for stores that live outside the
// process, and back.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte) (any, error)
}

// MsgpackCodec encodes values with msgpack. Decoded documents come back as
// map[string]any with msgpack's native number types.
type MsgpackCodec struct{}

func (MsgpackCodec) Marshal(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

func (MsgpackCodec) Unmarshal(data []byte) (any, error) {
	var v any
	if err := msgpack.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}
