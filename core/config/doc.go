// Package config provides configuration management for world-sync.
//
// It uses Viper for loading configuration from environment variables and an
// optional .env file. Defaults come from the `default` struct tags of each section.
//
// # Configuration Structure
//
//   - Server: HTTP port, API key and change recording
//   - Transport: replicated store driver, Redis address and key prefix
//   - Database: MySQL connection details for persisted sessions
//   - Storage: S3/MinIO credentials and bucket for snapshots
//   - Log: Logging level and format
//
// # Usage
//
//	cfg, err := config.LoadConfig(".")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Transport.Addr)
package config
