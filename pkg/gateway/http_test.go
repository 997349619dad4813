package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wishmock/wishmock/pkg/config"
	"github.com/wishmock/wishmock/pkg/engine"
	"github.com/wishmock/wishmock/pkg/logging"
)

const greeterProto = `syntax = "proto3";

package helloworld;

import "validate/validate.proto";

service Greeter {
  rpc SayHello (HelloRequest) returns (HelloReply);
  rpc Watch (HelloRequest) returns (stream HelloReply);
}

message HelloRequest {
  string name  = 1 [(validate.rules).string.min_len = 3];
  string email = 2 [(validate.rules).string.email = true];
  int32  age   = 3 [(validate.rules).int32.lte = 150];
}

message HelloReply {
  string message = 1;
}
`

const sayHelloRule = `
responses:
  - when:
      request:
        name: "VIP"
    body:
      message: "Welcome back!"
    priority: 5
    trailers:
      x-rule: vip
  - body:
      message: "Hello!"
`

const watchRule = `
responses:
  - stream_items:
      - {message: "one"}
      - {message: "two"}
    stream_delay_ms: 0
`

type fixture struct {
	cfg      *config.Config
	engine   *engine.Engine
	rulesDir string
}

func newFixture(t *testing.T, mutate func(*config.Config)) *fixture {
	t.Helper()

	protoDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(protoDir, "greeter.proto"), []byte(greeterProto), 0o644))
	rulesDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(rulesDir, "helloworld.Greeter.SayHello.yaml"), []byte(sayHelloRule), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(rulesDir, "helloworld.Greeter.Watch.yaml"), []byte(watchRule), 0o644))

	cfg := config.Default()
	cfg.ProtoDir = protoDir
	cfg.RulesDir = rulesDir
	if mutate != nil {
		mutate(cfg)
	}

	eng := engine.New(cfg, logging.Nop())
	require.NoError(t, eng.Rebuild(context.Background()))
	return &fixture{cfg: cfg, engine: eng, rulesDir: rulesDir}
}

func (f *fixture) httpServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(NewHTTPServer(f.cfg, f.engine, logging.Nop()))
	t.Cleanup(srv.Close)
	return srv
}

// wireRequest encodes a JSON request body to protobuf wire bytes.
func (f *fixture) wireRequest(t *testing.T, typeName, body string) []byte {
	t.Helper()
	mt, err := f.engine.World().Schema.MessageType(typeName)
	require.NoError(t, err)
	msg, err := mt.DecodeJSON([]byte(body))
	require.NoError(t, err)
	wire, err := mt.EncodeWire(msg)
	require.NoError(t, err)
	return wire
}

func (f *fixture) wireToJSON(t *testing.T, typeName string, wire []byte) string {
	t.Helper()
	mt, err := f.engine.World().Schema.MessageType(typeName)
	require.NoError(t, err)
	msg, err := mt.DecodeWire(wire)
	require.NoError(t, err)
	body, err := mt.EncodeJSON(msg)
	require.NoError(t, err)
	return string(body)
}

func post(t *testing.T, srv *httptest.Server, path, contentType string, body []byte) *http.Response {
	t.Helper()
	resp, err := http.Post(srv.URL+path, contentType, bytes.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func readBody(t *testing.T, resp *http.Response) []byte {
	t.Helper()
	var buf bytes.Buffer
	_, err := buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return buf.Bytes()
}

type testFrame struct {
	flag    byte
	payload []byte
}

func parseFrames(t *testing.T, data []byte) []testFrame {
	t.Helper()
	var frames []testFrame
	for len(data) > 0 {
		require.GreaterOrEqual(t, len(data), 5, "truncated frame header")
		n := binary.BigEndian.Uint32(data[1:5])
		require.GreaterOrEqual(t, uint32(len(data)-5), n, "truncated frame payload")
		frames = append(frames, testFrame{flag: data[0], payload: data[5 : 5+n]})
		data = data[5+n:]
	}
	return frames
}

func TestConnectUnaryJSON(t *testing.T) {
	f := newFixture(t, nil)
	srv := f.httpServer(t)

	resp := post(t, srv, "/helloworld.Greeter/SayHello", "application/json",
		[]byte(`{"name":"Ada","email":"ada@example.com","age":36}`))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.JSONEq(t, `{"message":"Hello!"}`, string(readBody(t, resp)))
}

func TestConnectUnaryTrailersAsHeaders(t *testing.T) {
	f := newFixture(t, nil)
	srv := f.httpServer(t)

	resp := post(t, srv, "/helloworld.Greeter/SayHello", "application/json",
		[]byte(`{"name":"VIP","email":"vip@example.com"}`))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "vip", resp.Header.Get("Trailer-X-Rule"))
	assert.JSONEq(t, `{"message":"Welcome back!"}`, string(readBody(t, resp)))
}

func TestConnectUnaryProto(t *testing.T) {
	f := newFixture(t, nil)
	srv := f.httpServer(t)

	req := f.wireRequest(t, "helloworld.HelloRequest", `{"name":"Ada","email":"ada@example.com"}`)
	resp := post(t, srv, "/helloworld.Greeter/SayHello", "application/proto", req)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	got := f.wireToJSON(t, "helloworld.HelloReply", readBody(t, resp))
	assert.JSONEq(t, `{"message":"Hello!"}`, got)
}

func TestConnectValidationFailure(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.ValidationMode = config.ModeAggregate
	})
	srv := f.httpServer(t)

	resp := post(t, srv, "/helloworld.Greeter/SayHello", "application/json",
		[]byte(`{"name":"ab","email":"invalid","age":200}`))
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body struct {
		Code    string           `json:"code"`
		Message string           `json:"message"`
		Details []map[string]any `json:"details"`
	}
	require.NoError(t, json.Unmarshal(readBody(t, resp), &body))
	assert.Equal(t, "invalid_argument", body.Code)
	assert.Len(t, body.Details, 3)

	fields := make([]string, 0, len(body.Details))
	for _, d := range body.Details {
		fields = append(fields, d["field_path"].(string))
	}
	assert.ElementsMatch(t, []string{"name", "email", "age"}, fields)
}

func TestConnectUnknownMethod(t *testing.T) {
	f := newFixture(t, nil)
	srv := f.httpServer(t)

	resp := post(t, srv, "/helloworld.Greeter/Nope", "application/json", []byte(`{}`))
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.Unmarshal(readBody(t, resp), &body))
	assert.Equal(t, "not_found", body["code"])
}

func TestConnectNoRuleMatched(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, os.Remove(filepath.Join(f.rulesDir, "helloworld.Greeter.SayHello.yaml")))
	require.NoError(t, f.engine.Rebuild(context.Background()))
	srv := f.httpServer(t)

	resp := post(t, srv, "/helloworld.Greeter/SayHello", "application/json",
		[]byte(`{"name":"Ada","email":"ada@example.com"}`))
	require.Equal(t, http.StatusNotImplemented, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.Unmarshal(readBody(t, resp), &body))
	assert.Equal(t, "unimplemented", body["code"])
}

func TestConnectServerStreamNDJSON(t *testing.T) {
	f := newFixture(t, nil)
	srv := f.httpServer(t)

	resp := post(t, srv, "/helloworld.Greeter/Watch", "application/json",
		[]byte(`{"name":"Ada","email":"ada@example.com"}`))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	lines := strings.Split(strings.TrimSpace(string(readBody(t, resp))), "\n")
	require.Len(t, lines, 2)
	assert.JSONEq(t, `{"message":"one"}`, lines[0])
	assert.JSONEq(t, `{"message":"two"}`, lines[1])
}

func TestGRPCWebUnary(t *testing.T) {
	f := newFixture(t, nil)
	srv := f.httpServer(t)

	req := f.wireRequest(t, "helloworld.HelloRequest", `{"name":"VIP","email":"vip@example.com"}`)
	resp := post(t, srv, "/helloworld.Greeter/SayHello", "application/grpc-web+proto", envelope(0, req))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	frames := parseFrames(t, readBody(t, resp))
	require.Len(t, frames, 2)

	assert.EqualValues(t, 0, frames[0].flag)
	assert.JSONEq(t, `{"message":"Welcome back!"}`, f.wireToJSON(t, "helloworld.HelloReply", frames[0].payload))

	assert.Equal(t, frameTrailer, frames[1].flag)
	trailer := string(frames[1].payload)
	assert.Contains(t, trailer, "grpc-status: 0\r\n")
	assert.Contains(t, trailer, "x-rule: vip\r\n")
}

func TestGRPCWebUnknownMethodTrailerOnly(t *testing.T) {
	f := newFixture(t, nil)
	srv := f.httpServer(t)

	resp := post(t, srv, "/helloworld.Greeter/Nope", "application/grpc-web+proto", envelope(0, nil))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	frames := parseFrames(t, readBody(t, resp))
	require.Len(t, frames, 1)
	assert.Equal(t, frameTrailer, frames[0].flag)
	assert.Contains(t, string(frames[0].payload), "grpc-status: 5\r\n")
}

func TestGRPCWebText(t *testing.T) {
	f := newFixture(t, nil)
	srv := f.httpServer(t)

	req := f.wireRequest(t, "helloworld.HelloRequest", `{"name":"Ada","email":"ada@example.com"}`)
	body := base64.StdEncoding.EncodeToString(envelope(0, req))
	resp := post(t, srv, "/helloworld.Greeter/SayHello", "application/grpc-web-text", []byte(body))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	decoded, err := base64.StdEncoding.DecodeString(string(readBody(t, resp)))
	require.NoError(t, err)
	frames := parseFrames(t, decoded)
	require.Len(t, frames, 2)
	assert.JSONEq(t, `{"message":"Hello!"}`, f.wireToJSON(t, "helloworld.HelloReply", frames[0].payload))
	assert.Contains(t, string(frames[1].payload), "grpc-status: 0\r\n")
}

func TestGRPCWebServerStream(t *testing.T) {
	f := newFixture(t, nil)
	srv := f.httpServer(t)

	req := f.wireRequest(t, "helloworld.HelloRequest", `{"name":"Ada","email":"ada@example.com"}`)
	resp := post(t, srv, "/helloworld.Greeter/Watch", "application/grpc-web+proto", envelope(0, req))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	frames := parseFrames(t, readBody(t, resp))
	require.Len(t, frames, 3)
	assert.JSONEq(t, `{"message":"one"}`, f.wireToJSON(t, "helloworld.HelloReply", frames[0].payload))
	assert.JSONEq(t, `{"message":"two"}`, f.wireToJSON(t, "helloworld.HelloReply", frames[1].payload))
	assert.Equal(t, frameTrailer, frames[2].flag)
	assert.Contains(t, string(frames[2].payload), "grpc-status: 0\r\n")
}

func TestUnsupportedContentType(t *testing.T) {
	f := newFixture(t, nil)
	srv := f.httpServer(t)

	resp := post(t, srv, "/helloworld.Greeter/SayHello", "text/plain", []byte("hi"))
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
}

func TestMethodNotAllowed(t *testing.T) {
	f := newFixture(t, nil)
	srv := f.httpServer(t)

	resp, err := http.Get(srv.URL + "/helloworld.Greeter/SayHello")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.CORSEnabled = true
		cfg.CORSOrigins = []string{"https://app.example.com"}
	})
	srv := f.httpServer(t)

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/helloworld.Greeter/SayHello", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "https://app.example.com", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Headers"), "X-Grpc-Web")
}

func TestCORSRejectsUnknownOrigin(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.CORSEnabled = true
		cfg.CORSOrigins = []string{"https://app.example.com"}
	})
	srv := f.httpServer(t)

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/helloworld.Greeter/SayHello", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://evil.example.com")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestCORSSimpleRequestExposesGRPCHeaders(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.CORSEnabled = true
		cfg.CORSOrigins = []string{"*"}
	})
	srv := f.httpServer(t)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/helloworld.Greeter/SayHello",
		strings.NewReader(`{"name":"Ada","email":"ada@example.com"}`))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", "https://anything.example.com")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Access-Control-Expose-Headers"), "Grpc-Status")
}

func TestParseContentType(t *testing.T) {
	tests := []struct {
		ct        string
		ok        bool
		dialect   dialect
		json      bool
		text      bool
		enveloped bool
	}{
		{"application/json", true, dialectConnect, true, false, false},
		{"application/json; charset=utf-8", true, dialectConnect, true, false, false},
		{"application/proto", true, dialectConnect, false, false, false},
		{"application/connect+json", true, dialectConnect, true, false, true},
		{"application/grpc-web", true, dialectGRPCWeb, false, false, true},
		{"application/grpc-web+json", true, dialectGRPCWeb, true, false, true},
		{"application/grpc-web-text", true, dialectGRPCWeb, false, true, true},
		{"text/plain", false, 0, false, false, false},
	}
	for _, tt := range tests {
		format, ok := parseContentType(tt.ct)
		assert.Equal(t, tt.ok, ok, tt.ct)
		if !tt.ok {
			continue
		}
		assert.Equal(t, tt.dialect, format.dialect, tt.ct)
		assert.Equal(t, tt.json, format.json, tt.ct)
		assert.Equal(t, tt.text, format.text, tt.ct)
		assert.Equal(t, tt.enveloped, format.enveloped, tt.ct)
	}
}
