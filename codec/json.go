package codec

import "encoding/json"

// JSON is the standard-library JSON codec.
//
// Metadata is an arbitrary user value; JSON covers typical structs, maps and
// slices. Implement Codec for anything it cannot represent (time precision,
// binary payloads, protobuf types).
type JSON struct{}

// Marshal encodes the value to JSON.
func (JSON) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

// Unmarshal decodes the JSON data into v.
func (JSON) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// Name returns the unique name of the codec ("json").
func (JSON) Name() string { return "json" }

// Default is the codec used when none is configured.
var Default Codec = JSON{}
