package cache

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Key identifies a cached payload.
type Key struct {
	// Source is the data source name (e.g. "chembl", "crossref").
	Source string

	// Path is the request path (e.g. "/chembl/api/data/molecule.json").
	Path string

	// Params are the query parameters of the request.
	Params url.Values
}

// String generates a deterministic key string.
// Format: sciapi:source:path:param1=val1:param2=val2
//
// Example:
//
//	sciapi:chembl:chembl/api/data/molecule.json:limit=25:offset=0
func (k Key) String() string {
	parts := []string{"sciapi"}

	if k.Source != "" {
		parts = append(parts, k.Source)
	}

	path := strings.Trim(k.Path, "/")
	if path != "" {
		parts = append(parts, path)
	}

	// Params sorted for determinism; multi-valued params keep their order.
	if len(k.Params) > 0 {
		names := make([]string, 0, len(k.Params))
		for name := range k.Params {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			parts = append(parts, fmt.Sprintf("%s=%s", name, strings.Join(k.Params[name], ",")))
		}
	}

	return strings.Join(parts, ":")
}
