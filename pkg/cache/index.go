package cache

import (
	"context"
	"strings"
	"unicode"

	"github.com/vcon-dev/vcon-server-sub000/pkg/types"
)

// Secondary index key prefixes.
const (
	TelPrefix    = "tel:"
	MailtoPrefix = "mailto:"
	NamePrefix   = "name:"
)

// Filter selects UUIDs by party attributes. Empty fields are ignored;
// the result is the set intersection across the provided attributes.
type Filter struct {
	Tel    string
	Mailto string
	Name   string
}

// Keys returns the index keys this filter intersects over, with the
// same normalization applied at write time.
func (f Filter) Keys() []string {
	var keys []string
	if f.Tel != "" {
		keys = append(keys, TelPrefix+normalizeTel(f.Tel))
	}
	if f.Mailto != "" {
		keys = append(keys, MailtoPrefix+normalizeMailto(f.Mailto))
	}
	if f.Name != "" {
		keys = append(keys, NamePrefix+normalizeName(f.Name))
	}
	return keys
}

// Search returns UUIDs matching all provided party attributes. An empty
// filter matches nothing.
func (c *Cache) Search(ctx context.Context, filter Filter) ([]string, error) {
	keys := filter.Keys()
	if len(keys) == 0 {
		return nil, nil
	}
	return c.client.SInter(ctx, keys...)
}

// indexKeys derives the secondary index keys for every party of a
// document: tel stripped to digits, mailto lowercased, name lowercased
// and trimmed.
func indexKeys(vcon *types.VCon) []string {
	seen := make(map[string]bool)
	var keys []string
	add := func(key string) {
		if !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}
	for _, party := range vcon.Parties {
		if tel := normalizeTel(party.Tel); tel != "" {
			add(TelPrefix + tel)
		}
		if mailto := normalizeMailto(party.Mailto); mailto != "" {
			add(MailtoPrefix + mailto)
		}
		if name := normalizeName(party.Name); name != "" {
			add(NamePrefix + name)
		}
	}
	return keys
}

func normalizeTel(tel string) string {
	var b strings.Builder
	for _, r := range tel {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func normalizeMailto(mailto string) string {
	return strings.ToLower(strings.TrimSpace(mailto))
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
