// Package logging provides structured logging for wishmock built on log/slog.
//
// Components receive a *slog.Logger and fall back to Nop() when none is set,
// so library code never has to nil-check its logger. The level and format are
// driven by the LOG_LEVEL and LOG_FORMAT environment variables via the config
// package.
package logging
