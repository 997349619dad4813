// Package cli implements the wishmock command line: serving the mock
// server and inspecting a running instance.
package cli
