// Package config handles loading and validating FleetLink Core configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with FLEETLINK_* environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - Sensitive values (passwords, tokens, database URLs) should be set via environment variables
//   - The config file should have restricted permissions (0600)
//   - Session auth mode "trusted" must only be used behind an authenticating web tier
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Server.Name)
package config
