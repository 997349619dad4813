// wishmock is a programmable mock server for protobuf-defined RPC
// services, speaking native gRPC, gRPC-Web and Connect RPC.
package main

import (
	"os"

	"github.com/wishmock/wishmock/pkg/cli"
)

// Build-time variables set via ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	os.Exit(cli.Execute(cli.BuildInfo{Version: Version, Commit: Commit, BuildDate: BuildDate}))
}
