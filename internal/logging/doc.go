// Package logging configures structured slog output for kbindex.
//
// Logs are JSON lines written to a size-rotated file under the data directory
// and, unless disabled, mirrored to stderr. The MCP command must never write to
// stdout or stderr, so it uses FileOnly.
package logging
