// Package cmd implements the redispool command-line client. It is a thin layer over
// the library: every command loads config, connects a pool (or a sharded client when
// several endpoints are given) and runs one operation.
//
// Configuration is read from flags, REDISPOOL_* environment variables and .env files,
// see package config. See redispool -help for a list of all commands.
package cmd
