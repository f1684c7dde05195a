// Package searcher answers natural-language queries against the knowledge
// base: it embeds the query, runs a nearest-neighbour search on the vector
// store and attaches a public link and a prompt-ready context to the hits.
//
// Every consumer surface (HTTP API, MCP server, CLI) goes through the same
// Searcher, so query statistics cover all of them.
//
// Usage:
//
//	s, err := searcher.New(client, vectors, source.PublicURL,
//	    searcher.WithStats(stats))
//	if err != nil {
//	    return err
//	}
//	resp, err := s.Search(ctx, "what is the refund policy", 5)
package searcher
