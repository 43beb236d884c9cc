// Package storage provides flat key-value backends for persisted records:
// SQLite, a JSON file, and process memory.
package storage
