package codec

import "encoding/json"

// JSON encodes values as JSON. It is the default codec: human-readable in
// the store, which matters when operators inspect failed jobs.
type JSON struct{}

func (c *JSON) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (c *JSON) Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (c *JSON) Name() string { return NameJSON }
