// Package codec defines the serialization contract for invocation
// descriptors and job arguments. The engine never inspects encoded bytes;
// it only calls Encode and Decode, so the wire format stays swappable.
package codec

// Codec serializes and deserializes values for durable storage.
// Implementations must be safe for concurrent use.
type Codec interface {
	// Encode serializes a value to bytes.
	Encode(v any) ([]byte, error)

	// Decode deserializes bytes into the given value.
	Decode(data []byte, v any) error

	// Name returns the codec identifier (e.g. "json", "msgpack").
	Name() string
}

// Codec name constants.
const (
	NameJSON    = "json"
	NameMsgpack = "msgpack"
)

// Get returns a codec by name. Defaults to JSON.
func Get(name string) Codec {
	switch name {
	case NameMsgpack:
		return &Msgpack{}
	case NameJSON, "":
		return &JSON{}
	default:
		return &JSON{}
	}
}
