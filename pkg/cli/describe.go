package cli

import (
	"fmt"

	"github.com/jhump/protoreflect/grpcreflect"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// newDescribeCommand inspects a running server through gRPC reflection.
// With no arguments it lists services; with a symbol it prints the
// descriptor in proto source form.
func newDescribeCommand() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "describe [symbol]",
		Short: "List services or describe a symbol on a running server",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
			if err != nil {
				return fmt.Errorf("connecting to %s: %w", addr, err)
			}
			defer conn.Close()

			client := grpcreflect.NewClientAuto(cmd.Context(), conn)
			defer client.Reset()

			if len(args) == 0 {
				return listServices(cmd, client)
			}
			return describeSymbol(cmd, client, args[0])
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "localhost:50051", "server address")
	return cmd
}

func listServices(cmd *cobra.Command, client *grpcreflect.Client) error {
	services, err := client.ListServices()
	if err != nil {
		return fmt.Errorf("listing services: %w", err)
	}
	for _, svc := range services {
		fmt.Fprintln(cmd.OutOrStdout(), svc)
	}
	return nil
}

func describeSymbol(cmd *cobra.Command, client *grpcreflect.Client, symbol string) error {
	if svc, err := client.ResolveService(symbol); err == nil {
		fmt.Fprintf(cmd.OutOrStdout(), "service %s (%s)\n", svc.GetFullyQualifiedName(), svc.GetFile().GetName())
		for _, m := range svc.GetMethods() {
			shape := "unary"
			switch {
			case m.IsClientStreaming() && m.IsServerStreaming():
				shape = "bidi streaming"
			case m.IsClientStreaming():
				shape = "client streaming"
			case m.IsServerStreaming():
				shape = "server streaming"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "  rpc %s (%s) returns (%s)  [%s]\n",
				m.GetName(), m.GetInputType().GetFullyQualifiedName(), m.GetOutputType().GetFullyQualifiedName(), shape)
		}
		return nil
	}

	fd, err := client.FileContainingSymbol(symbol)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", symbol, err)
	}

	if md := fd.FindMessage(symbol); md != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "message %s (%s)\n", md.GetFullyQualifiedName(), fd.GetName())
		for _, f := range md.GetFields() {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s %s = %d\n", f.GetType(), f.GetName(), f.GetNumber())
		}
		return nil
	}
	if ed := fd.FindEnum(symbol); ed != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "enum %s (%s)\n", ed.GetFullyQualifiedName(), fd.GetName())
		for _, v := range ed.GetValues() {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %d\n", v.GetName(), v.GetNumber())
		}
		return nil
	}
	return fmt.Errorf("symbol %s not found in %s", symbol, fd.GetName())
}
