// Package config handles configuration loading for ordertrack.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${ORDERTRACK_JWT_SECRET}"
//
// Unset variables expand to the empty string.
//
// # Example
//
//	server:
//	  http_addr: ":8080"
//	database:
//	  path: "~/.local/share/ordertrack/snapshots.db"
//	store:
//	  max_history: 50
//	auth:
//	  jwt_secret: "${ORDERTRACK_JWT_SECRET}"
//	  token_ttl: "24h"
//	seed:
//	  path: "./seed.toml"
//	logging:
//	  level: "info"
//	  format: "text"
package config
