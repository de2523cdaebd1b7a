// Package config handles loading and validation of chatrelay configuration.
//
// # Overview
//
// Configuration is a single YAML file. Values may reference environment
// variables with ${VAR_NAME} syntax, which are expanded before parsing, and
// durations are written as strings ("2s", "500ms").
//
// # Example
//
//	telegram:
//	  bot_token: "${TELEGRAM_BOT_TOKEN}"
//	  poll_timeout: "30s"
//
//	database:
//	  path: "/var/lib/chatrelay/chatrelay.db"
//
//	providers:
//	  openai:
//	    api_key: "${OPENAI_API_KEY}"
//	  groq:
//	    api_key: "${GROQ_API_KEY}"
//
//	groups:
//	  debounce: "2s"
//
//	logging:
//	  level: "info"
//	  format: "text"
//
// # Required Fields
//
//   - telegram.bot_token
//   - database.path
//   - providers.openai.api_key (OpenAI is the primary provider)
//
// Providers without an api_key are still routable; their calls fail with an
// authentication error from the provider, which surfaces in the chat.
//
// # Defaults
//
//   - telegram.base_url: https://api.telegram.org
//   - telegram.poll_timeout: 30s
//   - telegram.max_file_bytes: 20 MiB
//   - groups.debounce: 2s
package config
