package cli

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
)

// BuildInfo carries the build-time version variables.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildDate string
}

// NewRootCommand builds the wishmock command tree. Running the bare
// command serves, matching how the server is used in containers.
func NewRootCommand(info BuildInfo) *cobra.Command {
	root := &cobra.Command{
		Use:   "wishmock",
		Short: "Programmable mock server for protobuf-defined RPC services",
		Long: `wishmock serves mock responses for gRPC, gRPC-Web and Connect RPC
clients from runtime-loaded .proto schemas and rule files. Requests are
checked against protoc-gen-validate and protovalidate constraints before
a rule is matched.`,
		Version:       info.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd)
		},
	}

	root.AddCommand(newServeCommand())
	root.AddCommand(newVersionCommand(info))
	root.AddCommand(newDescribeCommand())
	return root
}

func newVersionCommand(info BuildInfo) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "wishmock %s (commit %s, built %s, %s)\n",
				info.Version, info.Commit, info.BuildDate, runtime.Version())
		},
	}
}

// Execute runs the CLI and returns the process exit code.
func Execute(info BuildInfo) int {
	if err := NewRootCommand(info).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}
