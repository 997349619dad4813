// Package gateway exposes the engine over the three RPC dialects.
//
// GRPCServer serves native gRPC over HTTP/2. No service is statically
// registered; every call lands in the unknown-service handler and resolves
// against the engine's current world, so hot reloads take effect without
// restarting the server. Reflection follows the same world.
//
// HTTPServer serves Connect and gRPC-Web on one HTTP port, dispatching on
// content type. It runs over h2c so HTTP/1.1 and HTTP/2 clients both work.
package gateway
