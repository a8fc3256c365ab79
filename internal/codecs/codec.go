package codecs

// Codec marshals and unmarshals values to and from bytes. Event payloads and
// live-session wire messages go through a Codec so the serialization library
// stays swappable.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}
