// Package config provides configuration loading and validation for the
// dicomweb server.
//
// The package handles YAML configuration files, environment variables, and CLI flags
// with automatic merging and validation using go-playground/validator.
//
// # Configuration Precedence
//
// Values are loaded in this order (later sources override earlier ones):
//
//  1. Default values
//  2. Configuration file(s) - multiple files merged left-to-right
//  3. Environment variables (DICOMWEB_ prefix)
//  4. CLI flags
//
// # Usage
//
//	cfg, err := config.Load([]string{"config.yaml"}, cmd.Flags())
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Store in context for subcommands
//	ctx = config.WithContext(ctx, cfg)
//
//	// Retrieve later
//	cfg, err = config.FromContext(ctx)
//
// # Environment Variables
//
// All config keys map to environment variables with DICOMWEB_ prefix:
//   - server.port → DICOMWEB_SERVER_PORT
//   - database.type → DICOMWEB_DATABASE_TYPE
//   - store.duplicate_policy → DICOMWEB_STORE_DUPLICATE_POLICY
//
// # Configuration Structure
//
// The Config struct contains:
//   - Server: port, path_prefix, and max_upload_size
//   - Database: type and DSN
//   - Storage: blob storage path
//   - Auth: bearer token verification (issuer, audience, HMAC keys)
//   - Store: duplicate policy, UID validation, accepted SOP classes
//   - Compression: transfer encoding negotiation settings
//   - CORS: cross-origin resource sharing settings
//   - Log: logging level
//
// # Validation
//
// Configuration is validated using struct tags:
//   - Port must be 1-65535
//   - Duplicate policy must be reject, replace, or accept
//   - Log level must be debug, info, warn, or error
package config
