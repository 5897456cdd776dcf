// Package logx configures remindbot's structured logging.
//
// A small value-type wrapper (logx.Logger) sits on top of zerolog so that:
//   - console output stays readable (short timestamp + file:line caller)
//   - file output is JSON lines
//   - an optional operator chat sink receives WARN/ERROR records, rate limited
package logx
