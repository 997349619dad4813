package gateway

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/wishmock/wishmock/pkg/config"
	"github.com/wishmock/wishmock/pkg/engine"
	"github.com/wishmock/wishmock/pkg/logging"
	"github.com/wishmock/wishmock/pkg/stream"
	"github.com/wishmock/wishmock/pkg/validation"
)

// Envelope flags shared by Connect streaming and gRPC-Web.
const (
	frameEndStream byte = 0x02
	frameTrailer   byte = 0x80
)

// dialect is the RPC protocol spoken on one HTTP request.
type dialect int

const (
	dialectConnect dialect = iota
	dialectGRPCWeb
)

// wireFormat captures everything content-type negotiation decides.
type wireFormat struct {
	dialect     dialect
	json        bool
	text        bool // base64 body (grpc-web-text)
	enveloped   bool // request carries 5-byte envelopes
	contentType string
}

func (f wireFormat) protocolLabel() string {
	if f.dialect == dialectGRPCWeb {
		return "grpc-web"
	}
	return "connect"
}

// HTTPServer serves Connect and gRPC-Web on one port.
type HTTPServer struct {
	cfg    *config.Config
	engine *engine.Engine
	log    *slog.Logger
	srv    *http.Server
}

// NewHTTPServer builds the Connect/gRPC-Web front end over an engine.
func NewHTTPServer(cfg *config.Config, eng *engine.Engine, log *slog.Logger) *HTTPServer {
	if log == nil {
		log = logging.Nop()
	}
	return &HTTPServer{cfg: cfg, engine: eng, log: log}
}

// Handler returns the h2c-wrapped handler, so HTTP/1.1 and plaintext
// HTTP/2 clients both work.
func (s *HTTPServer) Handler() http.Handler {
	return h2c.NewHandler(s, &http2.Server{})
}

// Start binds the Connect port.
func (s *HTTPServer) Start(ctx context.Context) error {
	s.srv = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.cfg.ConnectPort),
		Handler: s.Handler(),
	}
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("connect server stopped", "error", err)
		}
	}()
	return nil
}

// Stop shuts the listener down gracefully.
func (s *HTTPServer) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *HTTPServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.applyCORS(w, r) {
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	format, ok := parseContentType(r.Header.Get("Content-Type"))
	if !ok {
		http.Error(w, "unsupported content type", http.StatusUnsupportedMediaType)
		return
	}

	started := time.Now()
	fqmn := strings.Trim(r.URL.Path, "/")

	data, err := s.readRequest(r, format)
	if err != nil {
		cerr := &engine.CallError{Kind: engine.KindDecodeError, Message: err.Error()}
		s.writeError(w, format, fqmn, cerr, started)
		return
	}

	out, cerr := s.engine.Dispatch(r.Context(), fqmn, engine.Payload{Data: data, JSON: format.json}, r.Header)
	if cerr != nil {
		s.writeError(w, format, fqmn, cerr, started)
		return
	}

	if out.IsStream() {
		err = s.writeStream(r.Context(), w, format, out)
	} else {
		err = s.writeUnary(r.Context(), w, format, out)
	}
	if err != nil {
		recordRequest(format.protocolLabel(), fqmn, "error", time.Since(started))
		s.log.Warn("response write failed", "method", fqmn, "error", err)
		return
	}

	recordRequest(format.protocolLabel(), fqmn, "ok", time.Since(started))
	s.log.Debug("http call served", "protocol", format.protocolLabel(), "method", fqmn)
}

// parseContentType maps the request content type to a wire format.
func parseContentType(ct string) (wireFormat, bool) {
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	ct = strings.ToLower(strings.TrimSpace(ct))

	switch ct {
	case "application/json":
		return wireFormat{dialect: dialectConnect, json: true, contentType: ct}, true
	case "application/proto", "application/protobuf":
		return wireFormat{dialect: dialectConnect, contentType: ct}, true
	case "application/connect+json":
		return wireFormat{dialect: dialectConnect, json: true, enveloped: true, contentType: ct}, true
	case "application/connect+proto":
		return wireFormat{dialect: dialectConnect, enveloped: true, contentType: ct}, true
	case "application/grpc-web", "application/grpc-web+proto":
		return wireFormat{dialect: dialectGRPCWeb, enveloped: true, contentType: ct}, true
	case "application/grpc-web+json":
		return wireFormat{dialect: dialectGRPCWeb, json: true, enveloped: true, contentType: ct}, true
	case "application/grpc-web-text", "application/grpc-web-text+proto":
		return wireFormat{dialect: dialectGRPCWeb, text: true, enveloped: true, contentType: ct}, true
	default:
		return wireFormat{}, false
	}
}

// readRequest extracts the request message bytes: base64 decode for text
// mode, then the first envelope for enveloped formats.
func (s *HTTPServer) readRequest(r *http.Request, format wireFormat) ([]byte, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("reading request body: %w", err)
	}
	if format.text {
		body, err = base64.StdEncoding.DecodeString(string(body))
		if err != nil {
			return nil, fmt.Errorf("decoding base64 body: %w", err)
		}
	}
	if !format.enveloped {
		return body, nil
	}
	_, payload, err := readEnvelope(body)
	if err != nil {
		return nil, err
	}
	return payload, nil
}

func readEnvelope(data []byte) (byte, []byte, error) {
	if len(data) < 5 {
		return 0, nil, fmt.Errorf("short envelope: %d bytes", len(data))
	}
	n := binary.BigEndian.Uint32(data[1:5])
	if uint32(len(data)-5) < n {
		return 0, nil, fmt.Errorf("truncated envelope: want %d bytes, have %d", n, len(data)-5)
	}
	return data[0], data[5 : 5+n], nil
}

func envelope(flag byte, payload []byte) []byte {
	out := make([]byte, 5+len(payload))
	out[0] = flag
	binary.BigEndian.PutUint32(out[1:5], uint32(len(payload)))
	copy(out[5:], payload)
	return out
}

func (s *HTTPServer) encodeMessage(out *engine.Outcome, format wireFormat) ([]byte, error) {
	if format.json {
		return out.ReplyType.EncodeJSON(out.Reply)
	}
	return out.ReplyType.EncodeWire(out.Reply)
}

func (s *HTTPServer) writeUnary(ctx context.Context, w http.ResponseWriter, format wireFormat, out *engine.Outcome) error {
	if err := stream.Wait(ctx, out.Delay); err != nil {
		return err
	}

	body, err := s.encodeMessage(out, format)
	if err != nil {
		return err
	}

	if format.dialect == dialectConnect {
		w.Header().Set("Content-Type", format.contentType)
		for k, v := range out.Trailers {
			w.Header().Set("Trailer-"+k, v)
		}
		w.WriteHeader(http.StatusOK)
		_, err = w.Write(body)
		return err
	}

	// gRPC-Web: message frame then trailer frame, base64 in text mode.
	var buf []byte
	buf = append(buf, envelope(0, body)...)
	buf = append(buf, envelope(frameTrailer, trailerBlock(0, "", out.Trailers))...)
	return writeGRPCWebBody(w, format, buf)
}

func (s *HTTPServer) writeStream(ctx context.Context, w http.ResponseWriter, format wireFormat, out *engine.Outcome) error {
	defer trackActiveStream(format.protocolLabel())()

	if err := stream.Wait(ctx, out.Delay); err != nil {
		return err
	}

	if format.dialect == dialectGRPCWeb && format.text {
		return s.writeTextStream(ctx, w, format, out)
	}

	switch {
	case format.dialect == dialectConnect && format.json && !format.enveloped:
		return s.writeNDJSONStream(ctx, w, out)
	case format.dialect == dialectConnect:
		return s.writeConnectFramedStream(ctx, w, format, out)
	default:
		return s.writeGRPCWebStream(ctx, w, format, out)
	}
}

// writeNDJSONStream emits one JSON object per line for Connect JSON
// streams. A mid-stream failure appends a final error line; items already
// written stay delivered.
func (s *HTTPServer) writeNDJSONStream(ctx context.Context, w http.ResponseWriter, out *engine.Outcome) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	runErr := stream.Run(ctx, *out.Stream, func(item map[string]any) error {
		msg, cerr := out.EncodeItem(item)
		if cerr != nil {
			return cerr
		}
		line, err := out.ReplyType.EncodeJSON(msg)
		if err != nil {
			return err
		}
		if _, err := w.Write(append(line, '\n')); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	})
	if runErr == nil {
		return nil
	}

	cerr := classifySendError(runErr)
	if cerr.Kind == engine.KindCancelled {
		return runErr
	}
	line, err := json.Marshal(map[string]any{"error": connectErrorBody(cerr)})
	if err != nil {
		return runErr
	}
	_, _ = w.Write(append(line, '\n'))
	return nil
}

// writeConnectFramedStream emits enveloped messages and a terminal
// EndStreamResponse frame.
func (s *HTTPServer) writeConnectFramedStream(ctx context.Context, w http.ResponseWriter, format wireFormat, out *engine.Outcome) error {
	w.Header().Set("Content-Type", format.contentType)
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	runErr := s.emitFrames(ctx, w, format, out, flusher)

	end := map[string]any{}
	if runErr != nil {
		cerr := classifySendError(runErr)
		if cerr.Kind == engine.KindCancelled {
			return runErr
		}
		end["error"] = connectErrorBody(cerr)
	}
	payload, err := json.Marshal(end)
	if err != nil {
		return err
	}
	_, err = w.Write(envelope(frameEndStream, payload))
	return err
}

func (s *HTTPServer) writeGRPCWebStream(ctx context.Context, w http.ResponseWriter, format wireFormat, out *engine.Outcome) error {
	w.Header().Set("Content-Type", format.contentType)
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	runErr := s.emitFrames(ctx, w, format, out, flusher)

	code, message := 0, ""
	if runErr != nil {
		cerr := classifySendError(runErr)
		if cerr.Kind == engine.KindCancelled {
			return runErr
		}
		code, message = int(cerr.GRPCCode()), cerr.Message
	}
	_, err := w.Write(envelope(frameTrailer, trailerBlock(code, message, out.Trailers)))
	return err
}

// writeTextStream buffers the framed body and base64-encodes it once;
// grpc-web-text carries no incremental framing worth preserving for a mock.
func (s *HTTPServer) writeTextStream(ctx context.Context, w http.ResponseWriter, format wireFormat, out *engine.Outcome) error {
	var buf []byte
	runErr := stream.Run(ctx, *out.Stream, func(item map[string]any) error {
		body, err := s.encodeItemBytes(out, format, item)
		if err != nil {
			return err
		}
		buf = append(buf, envelope(0, body)...)
		return nil
	})

	code, message := 0, ""
	if runErr != nil {
		cerr := classifySendError(runErr)
		if cerr.Kind == engine.KindCancelled {
			return runErr
		}
		code, message = int(cerr.GRPCCode()), cerr.Message
	}
	buf = append(buf, envelope(frameTrailer, trailerBlock(code, message, out.Trailers))...)
	return writeGRPCWebBody(w, format, buf)
}

func (s *HTTPServer) emitFrames(ctx context.Context, w http.ResponseWriter, format wireFormat, out *engine.Outcome, flusher http.Flusher) error {
	return stream.Run(ctx, *out.Stream, func(item map[string]any) error {
		body, err := s.encodeItemBytes(out, format, item)
		if err != nil {
			return err
		}
		if _, err := w.Write(envelope(0, body)); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	})
}

func (s *HTTPServer) encodeItemBytes(out *engine.Outcome, format wireFormat, item map[string]any) ([]byte, error) {
	msg, cerr := out.EncodeItem(item)
	if cerr != nil {
		return nil, cerr
	}
	if format.json {
		return out.ReplyType.EncodeJSON(msg)
	}
	return out.ReplyType.EncodeWire(msg)
}

func writeGRPCWebBody(w http.ResponseWriter, format wireFormat, framed []byte) error {
	w.Header().Set("Content-Type", format.contentType)
	w.WriteHeader(http.StatusOK)
	if format.text {
		_, err := w.Write([]byte(base64.StdEncoding.EncodeToString(framed)))
		return err
	}
	_, err := w.Write(framed)
	return err
}

// trailerBlock renders the gRPC-Web trailer frame payload.
func trailerBlock(code int, message string, trailers map[string]string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "grpc-status: %d\r\n", code)
	if message != "" {
		fmt.Fprintf(&b, "grpc-message: %s\r\n", message)
	}
	for k, v := range trailers {
		fmt.Fprintf(&b, "%s: %s\r\n", strings.ToLower(k), v)
	}
	return []byte(b.String())
}

func connectErrorBody(cerr *engine.CallError) map[string]any {
	body := map[string]any{
		"code":    cerr.ConnectCode(),
		"message": cerr.Message,
	}
	if len(cerr.Violations) > 0 {
		body["details"] = violationDetails(cerr.Violations)
	}
	return body
}

func violationDetails(violations []validation.Violation) []map[string]any {
	out := make([]map[string]any, 0, len(violations))
	for _, v := range violations {
		out = append(out, map[string]any{
			"field_path":    v.FieldPath,
			"constraint_id": v.ConstraintID,
			"message":       v.Message,
		})
	}
	return out
}

func (s *HTTPServer) writeError(w http.ResponseWriter, format wireFormat, fqmn string, cerr *engine.CallError, started time.Time) {
	recordRequest(format.protocolLabel(), fqmn, strings.ToLower(cerr.GRPCCode().String()), time.Since(started))
	recordError(format.protocolLabel(), string(cerr.Kind))
	if cerr.Kind == engine.KindCancelled {
		s.log.Debug("http call cancelled", "method", fqmn)
	} else {
		s.log.Warn("http call failed", "method", fqmn, "kind", cerr.Kind, "error", cerr.Message)
	}

	if format.dialect == dialectConnect {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(cerr.HTTPStatus())
		_ = json.NewEncoder(w).Encode(connectErrorBody(cerr))
		return
	}

	framed := envelope(frameTrailer, trailerBlock(int(cerr.GRPCCode()), cerr.Message, nil))
	_ = writeGRPCWebBody(w, format, framed)
}

// applyCORS sets response CORS headers and answers preflights. Returns
// true when the request was fully handled here.
func (s *HTTPServer) applyCORS(w http.ResponseWriter, r *http.Request) bool {
	if !s.cfg.CORSEnabled {
		return false
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return false
	}
	if !s.originAllowed(origin) {
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusForbidden)
			return true
		}
		return false
	}

	h := w.Header()
	h.Set("Access-Control-Allow-Origin", origin)
	h.Add("Vary", "Origin")

	if r.Method == http.MethodOptions {
		h.Set("Access-Control-Allow-Methods", "POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers",
			"Content-Type, Connect-Protocol-Version, Connect-Timeout-Ms, X-Grpc-Web, Connect-Accept-Encoding, X-User-Agent")
		h.Set("Access-Control-Max-Age", "7200")
		w.WriteHeader(http.StatusNoContent)
		return true
	}

	h.Set("Access-Control-Expose-Headers", "Grpc-Status, Grpc-Message, Grpc-Encoding")
	return false
}

func (s *HTTPServer) originAllowed(origin string) bool {
	for _, allowed := range s.cfg.CORSOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}
