// Package pagination walks paginated upstream endpoints to completion.
//
// Scientific APIs disagree on how "next page" is expressed, so four
// strategies cover the observed protocols:
//
//   - Cursor: follow an opaque continuation token (Crossref, OpenAlex)
//   - Offset: slide a fixed offset/limit window (ChEMBL, Semantic Scholar)
//   - PageNumber: increment a page counter until a page is empty
//   - Token: fix a WebEnv/QueryKey session, then slide retstart (PubMed)
//
// Example usage:
//
//	strategy := pagination.NewCursor(apiClient, pagination.CursorConfig{})
//	records, err := strategy.FetchAll(ctx, "works", "DOI", params)
//
// Every strategy:
//   - Walks pages strictly sequentially within one FetchAll call
//   - Deduplicates by the caller's unique key where ranges can overlap
//   - Enforces a finite page guard even when the upstream never stops
//   - Returns partial records together with the error on failure
//   - Reports empty pages, invalid payloads, and guard stops via Hooks
package pagination
