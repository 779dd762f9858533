package testutil

import (
	"encoding/json"
	"fmt"
)

// IDRecords builds n records of the form {"id": "<prefix>-<i>"} starting
// at start. Useful for pagination fixtures with predictable unique keys.
func IDRecords(prefix string, start, n int) []map[string]any {
	records := make([]map[string]any, 0, n)
	for i := 0; i < n; i++ {
		records = append(records, map[string]any{
			"id": fmt.Sprintf("%s-%d", prefix, start+i),
		})
	}
	return records
}

// Page builds a JSON page body with records under the given envelope key.
// An empty envelope produces a bare array.
func Page(envelope string, records ...map[string]any) string {
	if envelope == "" {
		return mustJSON(records)
	}
	return mustJSON(map[string]any{envelope: records})
}

// CursorPage builds a page body carrying a next_cursor value alongside the
// records. An empty nextCursor emits null, which ends a cursor walk.
func CursorPage(envelope, nextCursor string, records ...map[string]any) string {
	body := map[string]any{envelope: records}
	if nextCursor == "" {
		body["next_cursor"] = nil
	} else {
		body["next_cursor"] = nextCursor
	}
	return mustJSON(body)
}

// SearchSession builds an E-utilities esearch response establishing a
// history-server session.
func SearchSession(count int, queryKey, webEnv string) string {
	return mustJSON(map[string]any{
		"esearchresult": map[string]any{
			"count":    fmt.Sprintf("%d", count),
			"querykey": queryKey,
			"webenv":   webEnv,
		},
	})
}

func mustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("testutil: marshal fixture: %v", err))
	}
	return string(data)
}
