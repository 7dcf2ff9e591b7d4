// Package config loads the server configuration from REPUB_* environment
// variables with sensible single-node defaults: sqlite metadata store,
// filesystem blob storage, upstream proxying against pub.dev.
package config
