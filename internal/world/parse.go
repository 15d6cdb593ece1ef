package world

import (
	"simhost/server/internal/simerr"
)

// ParseFile reads, decodes and validates the world at path. Unreadable
// sources are IO errors; malformed or invalid documents are parse errors.
func ParseFile(resolver *Resolver, path string) (*Description, error) {
	data, resolved, err := resolver.ReadFile(path)
	if err != nil {
		return nil, simerr.IO("read world", path, err)
	}
	desc, err := Decode(data, FormatForPath(resolved))
	if err != nil {
		return nil, simerr.Parse("parse world", resolved, err)
	}
	if err := desc.Validate(); err != nil {
		return nil, simerr.Parse("validate world", resolved, err)
	}
	return desc, nil
}

// ParseString decodes and validates an in-memory document, sniffing its
// encoding.
func ParseString(text string) (*Description, error) {
	data := []byte(text)
	desc, err := Decode(data, Sniff(data))
	if err != nil {
		return nil, simerr.Parse("parse world string", "", err)
	}
	if err := desc.Validate(); err != nil {
		return nil, simerr.Parse("validate world string", "", err)
	}
	return desc, nil
}
