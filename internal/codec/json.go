package codec

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/go-kratos/kratos/v2/encoding"
	// Registers kratos' own "json" codec first so that init below replaces it.
	_ "github.com/go-kratos/kratos/v2/encoding/json"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

const Name = "json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

var (
	// Proto replies (health checks, kratos errors) use the same snake_case
	// field names as the record API.
	marshalOpts = protojson.MarshalOptions{
		EmitUnpopulated: true,
		UseProtoNames:   true,
	}
	unmarshalOpts = protojson.UnmarshalOptions{
		DiscardUnknown: true,
	}
)

type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	if msg, ok := v.(proto.Message); ok {
		return marshalOpts.Marshal(msg)
	}
	return json.Marshal(v)
}

// Unmarshal rejects unknown fields in request bodies so that a misspelt
// field is reported instead of silently dropped.
func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	if msg, ok := v.(proto.Message); ok {
		return unmarshalOpts.Unmarshal(data, msg)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("unexpected data after JSON value")
	}
	return nil
}

func (jsonCodec) Name() string { return Name }
