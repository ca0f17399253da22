// Package config handles configuration loading for agent-console.
//
// # Overview
//
// Configuration is loaded from a YAML or TOML file (chosen by extension),
// with environment variable expansion, then overridden by AGENT_CONSOLE_*
// environment variables. Missing values fall back to defaults.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from AGENT_CONSOLE_CONFIG environment variable
//  2. ~/.config/agent-console/console.yaml
//
// # Environment Variable Expansion
//
// Values can reference environment variables:
//
//	agent:
//	  token: "${SUPPORT_TOKEN}"
//
// # Duration Parsing
//
// Durations use Go's time.ParseDuration syntax:
//
//	realtime:
//	  reconnect_initial: "500ms"
//	  reconnect_max: "30s"
//	sla:
//	  tick_interval: "15s"
//	  warning_threshold: "3m"
//	  policies:
//	    P0: { first_response: "15m", resolution: "4h" }
//
// # Overrides
//
// Selected fields can be set from the environment, for example
// AGENT_CONSOLE_BACKEND_BASE_URL or AGENT_CONSOLE_AGENT_TOKEN.
package config
