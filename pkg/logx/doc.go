// Package logx configures bongobot's structured logging.
//
// A small wrapper (logx.Logger) on top of zerolog keeps console output
// readable, file output JSON-structured, and optionally forwards warnings to
// an operator chat (min-level + rate limiting).
package logx
