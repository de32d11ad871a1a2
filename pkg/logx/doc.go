// Package logx configures mintwatch's structured logging.
//
// Logger is a small value-type wrapper on top of zerolog:
//   - Console output stays readable (short timestamp + short caller)
//   - File output is JSON-structured
//   - An optional chat sink forwards warnings to an operator chat
//     (min-level + rate limiting, never blocks the caller)
package logx
