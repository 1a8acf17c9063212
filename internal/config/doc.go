// Package config handles configuration loading for glass-gateway.
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
//	agent:
//	  endpoint: "${GLASS_AGENT_ENDPOINT}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	agent:
//	  timeout: "90s"
//	stream:
//	  keepalive_interval: "30s"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "127.0.0.1:8080"
//
// Database:
//
//	database:
//	  path: "/var/lib/glass-gateway/glass.db"
//
// External assistant:
//
//	agent:
//	  endpoint: "http://127.0.0.1:8428/assistant"
//	  timeout: "90s"
//
// Conversation bookkeeping:
//
//	conversation:
//	  timezone: "America/Chicago"   # reporting timezone for per-day keys
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
package config
