// Package config provides configuration loading and validation for the voice
// assistant. Settings come from a YAML file layered over built-in defaults,
// then from the environment and an optional .env file.
package config
