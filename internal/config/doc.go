// Package config provides configuration management for the studio service.
//
// Configuration is loaded from environment variables using the env package,
// after applying an optional .env file. All values have defaults suitable
// for local development against a backend on localhost.
//
// Example usage:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	fmt.Printf("HTTP server will listen on %s\n", cfg.GetHTTPAddr())
package config
