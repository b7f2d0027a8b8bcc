package api

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// CodecName selects the JSON codec as the call content-subtype.
const CodecName = "json"

// jsonCodec moves messages as JSON. The service has no generated proto
// types; plain structs with json tags are the wire contract.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) { return json.Marshal(v) }

func (jsonCodec) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }

func (jsonCodec) Name() string { return CodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
