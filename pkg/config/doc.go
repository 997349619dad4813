// Package config loads wishmock configuration from environment variables.
//
// Every knob has a default, so a bare `wishmock serve` starts the native gRPC
// port against ./protos and ./rules/grpc. The variable set is documented on
// the individual Config fields.
package config
