// Package tools declares the functions the conversational service may call
// and dispatches incoming calls to handlers that update the record store.
package tools
