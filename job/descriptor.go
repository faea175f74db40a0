package job

import (
	"fmt"

	"github.com/ostrea/backlog/codec"
)

// Descriptor names the operation a job runs: a target type, an operation
// on it, and the encoded arguments. It is what Job.Data deserializes to.
//
// Target is empty for free operations that bind to no instance.
type Descriptor struct {
	Target    string `json:"target,omitempty" msgpack:"target,omitempty"`
	Operation string `json:"operation" msgpack:"operation"`
	Args      []byte `json:"args,omitempty" msgpack:"args,omitempty"`
}

// Key returns the registry lookup key for this descriptor.
func (d Descriptor) Key() string {
	if d.Target == "" {
		return d.Operation
	}
	return d.Target + "." + d.Operation
}

// EncodeDescriptor serializes a descriptor with the given codec.
func EncodeDescriptor(c codec.Codec, d Descriptor) ([]byte, error) {
	data, err := c.Encode(d)
	if err != nil {
		return nil, fmt.Errorf("job: encode descriptor %s: %w", d.Key(), err)
	}
	return data, nil
}

// DecodeDescriptor deserializes descriptor bytes. A decode error means the
// stored record is corrupt; callers treat that as a resolution failure.
func DecodeDescriptor(c codec.Codec, data []byte) (Descriptor, error) {
	var d Descriptor
	if err := c.Decode(data, &d); err != nil {
		return Descriptor{}, fmt.Errorf("job: decode descriptor: %w", err)
	}
	if d.Operation == "" {
		return Descriptor{}, fmt.Errorf("job: decode descriptor: missing operation")
	}
	return d, nil
}
