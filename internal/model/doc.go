// Package model defines the data types shared by the connection manager,
// the change router and the sinks.
//
// Conventions:
//   - Device identifiers are the controller's instance ids (e.g. "SC1_M01.Light3")
//   - A value key on the wire is "<instanceId>.<property>"
//   - Values are kept as raw JSON; nothing here interprets device semantics
//   - IDs: uuid.UUID assigned on receipt, used as the storage primary key
package model
