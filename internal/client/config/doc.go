// Package config loads runtime configuration for the docsync client.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional config file selected via flags: -c or -config. Files ending
//     in .yaml or .yml are read as YAML, others as JSON.
//  3. Command-line flags (see parseFlags), which override earlier values.
//
// The result is checked with (*Config).Validate.
//
// # File schema
//
// Intervals use timex.Duration, so values can be either strings like "3s"
// or integer nanoseconds:
//
//	{
//	  "server_endpoint_addr": "127.0.0.1:50051",
//	  "online_check_interval": "3s",
//	  "sync_interval": "1m",
//	  "conflict_policy": "manual",
//	  "s3": {"bucket": "docsync", "base_endpoint": "http://127.0.0.1:9000/"},
//	  "retry": {"max_attempts": 4, "base_delay": "500ms"}
//	}
package config
