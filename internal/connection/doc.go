// Package connection implements the controller Connection Manager.
//
// The Connection Manager:
//   - Keeps one authenticated WebSocket connection to the controller
//   - Correlates CallWithReturn requests and Callback replies by sequence id
//   - Holds durable per-instance subscriptions and re-registers them in one
//     RegisterValuesChanged call after every (re)connect
//   - Reconnects with exponential backoff and jitter until Close
//   - Delivers ValuesChanged entries to handlers on a single ordered goroutine
package connection
