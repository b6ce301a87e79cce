package bridge

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// codecName is negotiated on the wire via the grpc "content-subtype"; both
// client and server must register the same codec under this name.
const codecName = "json"

// jsonCodec lets the bridge's hand-declared request/response structs ride
// over grpc without a .proto/protoc step: grpc's Codec interface only needs
// Marshal/Unmarshal/Name, so any encoding works, not only protobuf.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("bridge: marshal %T: %w", v, err)
	}
	return b, nil
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("bridge: unmarshal into %T: %w", v, err)
	}
	return nil
}

func (jsonCodec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
