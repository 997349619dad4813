package gateway

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/reflection"
	v1reflectiongrpc "google.golang.org/grpc/reflection/grpc_reflection_v1"
	v1alphareflectiongrpc "google.golang.org/grpc/reflection/grpc_reflection_v1alpha"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/wishmock/wishmock/pkg/config"
	"github.com/wishmock/wishmock/pkg/engine"
	"github.com/wishmock/wishmock/pkg/logging"
	"github.com/wishmock/wishmock/pkg/schema"
	"github.com/wishmock/wishmock/pkg/stream"
)

// Server lifecycle errors.
var (
	ErrAlreadyRunning = errors.New("server is already running")
)

// GRPCServer is the native gRPC front end.
type GRPCServer struct {
	cfg    *config.Config
	engine *engine.Engine
	log    *slog.Logger

	mu        sync.Mutex
	running   bool
	plain     *grpc.Server
	secure    *grpc.Server
	listeners []net.Listener
}

// NewGRPCServer builds the native gRPC front end over an engine.
func NewGRPCServer(cfg *config.Config, eng *engine.Engine, log *slog.Logger) *GRPCServer {
	if log == nil {
		log = logging.Nop()
	}
	return &GRPCServer{cfg: cfg, engine: eng, log: log}
}

// Start binds the plaintext port and, when configured, the TLS port.
func (s *GRPCServer) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrAlreadyRunning
	}

	plainLis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.GRPCPort))
	if err != nil {
		return fmt.Errorf("listening on grpc port: %w", err)
	}
	s.plain = s.newServer()
	s.listeners = append(s.listeners, plainLis)
	go s.serve(s.plain, plainLis, "grpc")

	if s.cfg.GRPCTLSPort > 0 {
		creds, err := s.tlsCredentials()
		if err != nil {
			plainLis.Close()
			return err
		}
		tlsLis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.GRPCTLSPort))
		if err != nil {
			plainLis.Close()
			return fmt.Errorf("listening on grpc tls port: %w", err)
		}
		s.secure = s.newServer(grpc.Creds(creds))
		s.listeners = append(s.listeners, tlsLis)
		go s.serve(s.secure, tlsLis, "grpc-tls")
	}

	s.running = true
	return nil
}

// ServeListener runs a server on a caller-provided listener, for tests.
func (s *GRPCServer) ServeListener(lis net.Listener) error {
	srv := s.newServer()
	s.mu.Lock()
	s.plain = srv
	s.running = true
	s.mu.Unlock()
	return srv.Serve(lis)
}

// Stop drains gracefully, forcing after the timeout.
func (s *GRPCServer) Stop(ctx context.Context, timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	for _, srv := range []*grpc.Server{s.plain, s.secure} {
		if srv == nil {
			continue
		}
		done := make(chan struct{})
		go func(gs *grpc.Server) {
			gs.GracefulStop()
			close(done)
		}(srv)
		select {
		case <-done:
		case <-time.After(timeout):
			srv.Stop()
		case <-ctx.Done():
			srv.Stop()
		}
	}
	s.running = false
	s.plain, s.secure, s.listeners = nil, nil, nil
	return nil
}

func (s *GRPCServer) newServer(extra ...grpc.ServerOption) *grpc.Server {
	opts := append([]grpc.ServerOption{grpc.UnknownServiceHandler(s.handleStream)}, extra...)
	srv := grpc.NewServer(opts...)
	s.registerReflection(srv)
	return srv
}

func (s *GRPCServer) serve(srv *grpc.Server, lis net.Listener, label string) {
	if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		s.log.Error("grpc server stopped", "listener", label, "error", err)
	}
}

func (s *GRPCServer) tlsCredentials() (credentials.TransportCredentials, error) {
	cert, err := tls.LoadX509KeyPair(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
	if err != nil {
		return nil, fmt.Errorf("loading server certificate: %w", err)
	}
	tlsCfg := &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}

	if s.cfg.MTLSEnabled {
		caPEM, err := os.ReadFile(s.cfg.TLSCAFile)
		if err != nil {
			return nil, fmt.Errorf("loading client CA bundle: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("client CA bundle %s holds no certificates", s.cfg.TLSCAFile)
		}
		tlsCfg.ClientCAs = pool
		tlsCfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return credentials.NewTLS(tlsCfg), nil
}

// handleStream is the single entry point for every call: nothing is
// statically registered, so reloaded schemas serve immediately.
func (s *GRPCServer) handleStream(srv any, ss grpc.ServerStream) error {
	started := time.Now()
	ctx := ss.Context()

	fullMethod, ok := grpc.MethodFromServerStream(ss)
	if !ok {
		return status.Error(codes.Internal, "no method on stream")
	}
	fqmn := strings.TrimPrefix(fullMethod, "/")

	w := s.engine.World()
	if w == nil {
		return status.Error(codes.Unavailable, "server state not initialized")
	}

	spec, err := w.Schema.LookupMethod(fqmn)
	if err != nil {
		cerr := &engine.CallError{Kind: engine.KindMethodUnknown, Message: fmt.Sprintf("unknown method %s", fqmn)}
		return s.finish(started, fqmn, cerr, cerr.GRPCStatus().Err())
	}

	md, _ := metadata.FromIncomingContext(ctx)

	reqMsg, err := s.receive(ss, spec)
	if err != nil {
		cerr := &engine.CallError{Kind: engine.KindDecodeError, Message: err.Error()}
		return s.finish(started, fqmn, cerr, cerr.GRPCStatus().Err())
	}

	out, cerr := s.engine.DispatchMessage(ctx, w, spec, reqMsg, md)
	if cerr != nil {
		return s.finish(started, fqmn, cerr, cerr.GRPCStatus().Err())
	}

	if len(out.Trailers) > 0 {
		ss.SetTrailer(metadata.New(out.Trailers))
	}

	if out.IsStream() {
		err = s.sendStream(ctx, ss, out)
	} else {
		err = s.sendUnary(ctx, ss, out)
	}
	if err != nil {
		cerr := classifySendError(err)
		return s.finish(started, fqmn, cerr, cerr.GRPCStatus().Err())
	}
	return s.finish(started, fqmn, nil, nil)
}

// receive reads the request message. Client-streaming and bidi calls drain
// the inbound envelopes and answer off the last one.
func (s *GRPCServer) receive(ss grpc.ServerStream, spec schema.MethodSpec) (*dynamicpb.Message, error) {
	if !spec.ClientStream {
		msg := dynamicpb.NewMessage(spec.Input)
		if err := ss.RecvMsg(msg); err != nil {
			return nil, fmt.Errorf("receiving request: %w", err)
		}
		return msg, nil
	}

	last := dynamicpb.NewMessage(spec.Input)
	for {
		msg := dynamicpb.NewMessage(spec.Input)
		if err := ss.RecvMsg(msg); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("receiving request: %w", err)
		}
		last = msg
	}
	return last, nil
}

func (s *GRPCServer) sendUnary(ctx context.Context, ss grpc.ServerStream, out *engine.Outcome) error {
	if err := stream.Wait(ctx, out.Delay); err != nil {
		return err
	}
	return ss.SendMsg(out.Reply)
}

func (s *GRPCServer) sendStream(ctx context.Context, ss grpc.ServerStream, out *engine.Outcome) error {
	defer trackActiveStream("grpc")()
	if err := stream.Wait(ctx, out.Delay); err != nil {
		return err
	}
	return stream.Run(ctx, *out.Stream, func(item map[string]any) error {
		msg, cerr := out.EncodeItem(item)
		if cerr != nil {
			return cerr
		}
		return ss.SendMsg(msg)
	})
}

// finish records metrics and logs the call outcome.
func (s *GRPCServer) finish(started time.Time, fqmn string, cerr *engine.CallError, err error) error {
	st := "ok"
	if cerr != nil {
		st = strings.ToLower(cerr.GRPCCode().String())
	}
	recordRequest("grpc", fqmn, st, time.Since(started))

	switch {
	case cerr == nil:
		s.log.Debug("grpc call served", "method", fqmn)
	case cerr.Kind == engine.KindCancelled:
		recordError("grpc", string(cerr.Kind))
		s.log.Debug("grpc call cancelled", "method", fqmn)
	default:
		recordError("grpc", string(cerr.Kind))
		s.log.Warn("grpc call failed", "method", fqmn, "kind", cerr.Kind, "error", cerr.Message)
	}
	return err
}

func classifySendError(err error) *engine.CallError {
	var cerr *engine.CallError
	if errors.As(err, &cerr) {
		return cerr
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &engine.CallError{Kind: engine.KindCancelled, Message: err.Error()}
	}
	// A SendMsg failure after the client hangs up surfaces as a status
	// error, not a context error.
	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Canceled, codes.Unavailable:
			return &engine.CallError{Kind: engine.KindCancelled, Message: st.Message()}
		}
	}
	return &engine.CallError{Kind: engine.KindInternal, Message: err.Error()}
}

// registerReflection wires v1 and v1alpha reflection against the engine's
// current world, so reflect clients see reloaded schemas.
func (s *GRPCServer) registerReflection(srv *grpc.Server) {
	opts := reflection.ServerOptions{
		Services:           s,
		DescriptorResolver: &worldResolver{engine: s.engine},
		ExtensionResolver:  protoregistry.GlobalTypes,
	}
	v1reflectiongrpc.RegisterServerReflectionServer(srv, reflection.NewServerV1(opts))
	v1alphareflectiongrpc.RegisterServerReflectionServer(srv, reflection.NewServer(opts))
}

// GetServiceInfo implements reflection.ServiceInfoProvider off the current
// world.
func (s *GRPCServer) GetServiceInfo() map[string]grpc.ServiceInfo {
	info := make(map[string]grpc.ServiceInfo)
	w := s.engine.World()
	if w == nil {
		return info
	}
	for _, m := range w.Schema.Methods() {
		svc := info[m.Service]
		svc.Methods = append(svc.Methods, grpc.MethodInfo{
			Name:           m.Method,
			IsClientStream: m.ClientStream,
			IsServerStream: m.ServerStream,
		})
		info[m.Service] = svc
	}
	return info
}

// worldResolver resolves descriptors from the current world, falling back
// to the process registry for well-known and validation imports.
type worldResolver struct {
	engine *engine.Engine
}

func (r *worldResolver) FindFileByPath(path string) (protoreflect.FileDescriptor, error) {
	if w := r.engine.World(); w != nil {
		if fd, err := w.Schema.Files().FindFileByPath(path); err == nil {
			return fd, nil
		}
	}
	return protoregistry.GlobalFiles.FindFileByPath(path)
}

func (r *worldResolver) FindDescriptorByName(name protoreflect.FullName) (protoreflect.Descriptor, error) {
	if w := r.engine.World(); w != nil {
		if d, err := w.Schema.Files().FindDescriptorByName(name); err == nil {
			return d, nil
		}
	}
	return protoregistry.GlobalFiles.FindDescriptorByName(name)
}

var _ protodesc.Resolver = (*worldResolver)(nil)
