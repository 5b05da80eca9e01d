// Package config handles configuration loading for coven-recall.
//
// # Overview
//
// Configuration is loaded from YAML (or, for .toml paths, TOML) files with
// environment variable expansion. Unset optional fields get defaults before
// validation.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. --config flag
//  2. Path from COVEN_RECALL_CONFIG environment variable
//  3. $XDG_CONFIG_HOME/coven/recall.yaml
//  4. ~/.config/coven/recall.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	telegram:
//	  token: "${TELEGRAM_BOT_TOKEN}"
//
// A .env file next to the working directory is loaded first, so secrets can
// live there.
//
// # Configuration Sections
//
// Recall behaviour:
//
//	recall:
//	  marker: "[recall]"          # case-insensitive
//	  max_history: 20             # messages remembered per conversation
//	  settle_delay: "500ms"       # pause between the two deletions
//	  delete_timeout: "10s"       # bound on each transport delete call
//	  supported_platforms: [matrix, telegram]
//	  command_prefix: "/"
//	  command_cooldown: "2s"      # minimum gap between manual recalls
//	  dedupe_ttl: "5m"
//
// Frontends:
//
//	matrix:
//	  enabled: true
//	  homeserver: "https://matrix.org"
//	  username: "covenbot"
//	  password: "${MATRIX_PASSWORD}"
//	  recovery_key: ""            # enables E2EE when set
//	  allowed_rooms: []
//	  typing_indicator: true
//
//	telegram:
//	  enabled: false
//	  token: "${TELEGRAM_BOT_TOKEN}"
//	  allowed_chats: []
//	  typing_indicator: false
//
// Agent gateway, logging and metrics:
//
//	gateway:
//	  url: "http://localhost:8080"
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
//	metrics:
//	  enabled: false
//	  addr: "127.0.0.1:9464"
//	  path: "/metrics"
package config
