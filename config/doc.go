// Package config loads controller configuration with Viper.
//
// Values come from a YAML file, a .env file (godotenv) and the process
// environment, in increasing order of precedence. Environment variables are
// matched after stripping an optional prefix, with underscores standing for
// either a nesting dot or a literal underscore:
//
//	ICEFLOW_SUPERVISOR_CALL_TIMEOUT=20s  ->  supervisor.call_timeout
//
// Structs are checked with Validate, which reads go-playground validator
// tags and reports failures as INVALID_INPUT errors.
package config
