// Package config handles loading and validating Gray Logic Auth configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Loading optional .env files (never overriding the real environment)
//   - Overriding with GRAYLOGIC_* environment variables
//   - Validation of required fields and secrets
//
// Security Considerations:
//   - Session, JWT and HMAC secrets have no defaults and must come from the
//     environment or a protected config file
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Auth.Cookie.Name)
package config
