package codec

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

type protoCodec struct {
	mo proto.MarshalOptions
	uo proto.UnmarshalOptions
}

// Proto returns a deterministic Protocol Buffers codec.
// Content-Type: application/x-protobuf
//
// proto.Message values are marshaled as is. Any other value is carried as a
// google.protobuf.Struct built from its JSON form, and decodes into *map[string]any.
func Proto() Codec {
	return protoCodec{
		mo: proto.MarshalOptions{Deterministic: true},
		uo: proto.UnmarshalOptions{},
	}
}

func (p protoCodec) Name() string        { return "proto" }
func (p protoCodec) ContentType() string { return "application/x-protobuf" }

func (p protoCodec) Marshal(v any) ([]byte, error) {
	if msg, ok := v.(proto.Message); ok {
		return p.mo.Marshal(msg)
	}
	m, err := toMap(v)
	if err != nil {
		return nil, err
	}
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("protobuf: %w", err)
	}
	return p.mo.Marshal(s)
}

func (p protoCodec) Unmarshal(data []byte, v any) error {
	switch dst := v.(type) {
	case proto.Message:
		return p.uo.Unmarshal(data, dst)
	case *map[string]any:
		var s structpb.Struct
		if err := p.uo.Unmarshal(data, &s); err != nil {
			return err
		}
		*dst = s.AsMap()
		return nil
	default:
		return fmt.Errorf("protobuf: unsupported target %T", v)
	}
}

func toMap(v any) (map[string]any, error) {
	if m, ok := v.(map[string]any); ok {
		return m, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("protobuf: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("protobuf: value %T is not an object: %w", v, err)
	}
	return m, nil
}
