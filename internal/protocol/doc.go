// Package protocol defines the duplex session contract with the conversational
// service: realtime audio out, tool responses out, and server messages in
// carrying audio, transcription fragments, turn signals and tool calls.
// Implementations live in other packages; this package holds only the
// service-neutral types, validation helpers and status errors.
package protocol
