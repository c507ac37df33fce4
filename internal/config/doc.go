// Package config handles configuration loading for coven-chat.
//
// # Overview
//
// Configuration is loaded from YAML or TOML files with environment
// variable expansion. Missing values fall back to defaults, then the
// result is validated.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from COVEN_CHAT_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/coven/chat.yaml
//  3. ~/.config/coven/chat.yaml
//
// Files with a .toml extension are decoded as TOML; everything else is
// decoded as YAML.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${COVEN_CHAT_JWT_SECRET}"
//
// Syntax: ${VAR_NAME}. Unset variables expand to an empty string.
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "localhost:8080"
//	  read_header_timeout: "10s"
//	  shutdown_timeout: "5s"
//
// Store:
//
//	store:
//	  backend: "memory"   # memory, sqlite
//	  driver: "sqlite"    # sqlite (pure Go), sqlite3 (cgo)
//	  path: ":memory:"
//
// Authentication (optional, disables auth when empty):
//
//	auth:
//	  jwt_secret: "${COVEN_CHAT_JWT_SECRET}"   # at least 32 bytes
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// The same layout in TOML:
//
//	[server]
//	http_addr = "localhost:8080"
//
//	[store]
//	backend = "sqlite"
//	path = "/var/lib/coven/chat.db"
//
// # Usage
//
//	cfg, err := config.Load("/etc/coven/chat.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
