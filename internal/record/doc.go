// Package record holds the Leads and Offers captured during voice sessions.
//
// Leads are merged into a single active draft until it is finalized; Offers
// are append-only. Every mutation is persisted through a flat key-value port
// under the keys "leads" and "offers". Persistence failures are logged and
// never invalidate the in-memory state.
package record
