// Package logx configures modbot's structured logging.
//
// The bot logs through logx.Logger, a small value type on top of zerolog:
//   - console output stays readable (short timestamp + file:line caller)
//   - the optional file sink is JSON, one event per line
//   - the optional admin sink forwards WARN+ events to the admin chat,
//     throttled so a failure storm cannot flood Telegram
package logx
