// Package config handles configuration loading for quotagate.
//
// # Overview
//
// Configuration is loaded from a YAML file (or TOML, when the path ends in
// .toml) with environment variable expansion, defaults and validation.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from the --config flag
//  2. Path from QUOTAGATE_CONFIG environment variable
//  3. ~/.config/quotagate/gateway.yaml
//
// # Environment Variable Expansion
//
//	auth:
//	  jwt_secret: "${QUOTAGATE_JWT_SECRET}"
//
// # Configuration Sections
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//
//	database:
//	  path: "/var/lib/quotagate/gateway.db"
//
//	auth:
//	  jwt_secret: "${QUOTAGATE_JWT_SECRET}"   # at least 32 bytes
//	  admin_principal_id: "admin@example.edu"
//	  internal_token_ttl: "24h"
//	  identity_provider:
//	    issuer_url: "https://login.microsoftonline.com/<tenant>/v2.0"
//	    jwks_url: ""                          # discovered from issuer_url when empty
//	    audience: "api://quotagate"
//	    allow_audience_fallback: false
//	    refresh_interval: "24h"
//	    fetch_timeout: "10s"
//	    miss_refresh_interval: "5s"
//	    credential_cache_ttl: "5m"
//	    credential_cache_size: 10000
//
//	quota:
//	  monthly_unit_budget: 1000000            # seeds the stored budget once
//	  estimate_multiplier: 3
//	  strict_reservations: false
//	  request_timeout: "60s"
//
//	usage:
//	  backend: "sqlite"                       # sqlite, redis
//	  redis_addr: "localhost:6379"
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
package config
