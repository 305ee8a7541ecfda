package codec

import (
	"fmt"
	"sort"
	"strings"
)

// Codec marshals records into channel payloads and back.
// Implementations must be deterministic so identical records produce identical frames.
type Codec interface {
	Name() string
	ContentType() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// Registry maps codec names and content types to codecs.
type Registry struct{ byKey map[string]Codec }

// NewRegistry constructs a registry preloaded with JSON, CBOR and Protobuf.
func NewRegistry() *Registry {
	r := &Registry{byKey: make(map[string]Codec)}
	r.Register(JSON())
	r.Register(CBOR())
	r.Register(Proto())
	return r
}

// Register adds a codec under both its name and content type.
func (r *Registry) Register(c Codec) {
	r.byKey[c.Name()] = c
	r.byKey[c.ContentType()] = c
}

// Get returns a codec by name or content type, or nil.
func (r *Registry) Get(key string) Codec { return r.byKey[strings.ToLower(strings.TrimSpace(key))] }

// Lookup is Get with an error for unknown keys. An empty key selects JSON.
func (r *Registry) Lookup(key string) (Codec, error) {
	if strings.TrimSpace(key) == "" {
		key = "json"
	}
	if c := r.Get(key); c != nil {
		return c, nil
	}
	return nil, fmt.Errorf("unknown codec %q (have %s)", key, strings.Join(r.Names(), ", "))
}

// Names lists registered codec names.
func (r *Registry) Names() []string {
	seen := make(map[string]struct{})
	for _, c := range r.byKey {
		seen[c.Name()] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
