// Package mqtt republishes controller value changes to an MQTT broker.
//
// Each change goes to <prefix>/<instance>/<property> as a small JSON document.
// The client registers a retained last-will on <prefix>/status so consumers
// can tell when the watcher disappears.
package mqtt
