package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
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
}

message HelloRequest {
  string name = 1 [(validate.rules).string.min_len = 3];
}

message HelloReply {
  string message = 1;
}
`

const sayHelloRule = "responses:\n  - body: {message: \"Hello!\"}\n"

type fixture struct {
	cfg      *config.Config
	engine   *engine.Engine
	server   *Server
	protoDir string
	rulesDir string
}

func newFixture(t *testing.T, rebuild bool) *fixture {
	t.Helper()

	protoDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(protoDir, "greeter.proto"), []byte(greeterProto), 0o644))
	rulesDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(rulesDir, "helloworld.Greeter.SayHello.yaml"), []byte(sayHelloRule), 0o644))

	cfg := config.Default()
	cfg.ProtoDir = protoDir
	cfg.RulesDir = rulesDir

	eng := engine.New(cfg, logging.Nop())
	if rebuild {
		require.NoError(t, eng.Rebuild(context.Background()))
	}
	return &fixture{
		cfg:      cfg,
		engine:   eng,
		server:   NewServer(cfg, eng, logging.Nop(), "test"),
		protoDir: protoDir,
		rulesDir: rulesDir,
	}
}

func (f *fixture) do(t *testing.T, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func uploadBody(t *testing.T, filename, content string) []byte {
	t.Helper()
	b, err := json.Marshal(uploadRequest{Filename: filename, Content: content})
	require.NoError(t, err)
	return b
}

func TestHealthProbes(t *testing.T) {
	f := newFixture(t, true)

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/health", nil).Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/liveness", nil).Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/readiness", nil).Code)
}

func TestReadinessBeforeFirstBuild(t *testing.T) {
	f := newFixture(t, false)
	assert.Equal(t, http.StatusServiceUnavailable, f.do(t, http.MethodGet, "/readiness", nil).Code)
}

func TestStatus(t *testing.T) {
	f := newFixture(t, true)

	rec := f.do(t, http.MethodGet, "/admin/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeJSON(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "test", body["version"])
	assert.EqualValues(t, 1, body["methods"])
	assert.EqualValues(t, 1, body["rule_keys"])

	validation := body["validation"].(map[string]any)
	assert.Equal(t, true, validation["enabled"])
	assert.EqualValues(t, 1, validation["constrained_types"])
}

func TestListServices(t *testing.T) {
	f := newFixture(t, true)

	rec := f.do(t, http.MethodGet, "/admin/services", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeJSON(t, rec)
	services := body["services"].([]any)
	require.Len(t, services, 1)
	svc := services[0].(map[string]any)
	assert.Equal(t, "helloworld.Greeter", svc["service"])
}

func TestSchemaOfMessage(t *testing.T) {
	f := newFixture(t, true)

	rec := f.do(t, http.MethodGet, "/admin/schema/helloworld.HelloRequest", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeJSON(t, rec)
	assert.Equal(t, "helloworld.HelloRequest", body["name"])
	assert.Equal(t, "message", body["kind"])
	fields := body["fields"].([]any)
	require.Len(t, fields, 1)
	assert.Equal(t, "name", fields[0].(map[string]any)["name"])
}

func TestSchemaOfUnknownType(t *testing.T) {
	f := newFixture(t, true)
	rec := f.do(t, http.MethodGet, "/admin/schema/helloworld.Nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEvents(t *testing.T) {
	f := newFixture(t, true)

	rec := f.do(t, http.MethodGet, "/admin/events", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeJSON(t, rec)
	assert.EqualValues(t, 0, body["count"])
}

func TestReload(t *testing.T) {
	f := newFixture(t, true)

	rec := f.do(t, http.MethodPost, "/admin/reload", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "reloaded", decodeJSON(t, rec)["status"])
}

func TestReloadRejectedKeepsServing(t *testing.T) {
	f := newFixture(t, true)
	before := f.engine.World()

	bad := filepath.Join(f.rulesDir, "helloworld.Greeter.SayHello.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("responses: [{body: {unterminated"), 0o644))

	rec := f.do(t, http.MethodPost, "/admin/reload", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Same(t, before, f.engine.World())
}

func TestUploadRule(t *testing.T) {
	f := newFixture(t, true)

	body := uploadBody(t, "helloworld.Greeter.SayHello.yaml",
		"responses:\n  - body: {message: \"Uploaded!\"}\n")
	rec := f.do(t, http.MethodPost, "/admin/upload/rule", body)
	require.Equal(t, http.StatusOK, rec.Code)

	out, cerr := f.engine.Dispatch(context.Background(), "helloworld.Greeter/SayHello",
		engine.Payload{Data: []byte(`{"name":"Ada"}`), JSON: true}, nil)
	require.Nil(t, cerr)
	reply, err := out.ReplyType.EncodeJSON(out.Reply)
	require.NoError(t, err)
	assert.JSONEq(t, `{"message":"Uploaded!"}`, string(reply))
}

func TestUploadProto(t *testing.T) {
	f := newFixture(t, true)

	extra := `syntax = "proto3";

package other;

service Echo {
  rpc Ping (PingRequest) returns (PingReply);
}

message PingRequest {
  string text = 1;
}

message PingReply {
  string text = 1;
}
`
	rec := f.do(t, http.MethodPost, "/admin/upload/proto", uploadBody(t, "echo.proto", extra))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, decodeJSON(t, rec)["methods"])
}

func TestUploadRejectedRollsBack(t *testing.T) {
	f := newFixture(t, true)
	path := filepath.Join(f.rulesDir, "helloworld.Greeter.SayHello.yaml")

	rec := f.do(t, http.MethodPost, "/admin/upload/rule",
		uploadBody(t, "helloworld.Greeter.SayHello.yaml", "responses: [{body: {unterminated"))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	restored, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, sayHelloRule, string(restored))
}

func TestUploadRejectedRemovesNewFile(t *testing.T) {
	f := newFixture(t, true)
	path := filepath.Join(f.rulesDir, "broken.yaml")

	rec := f.do(t, http.MethodPost, "/admin/upload/rule",
		uploadBody(t, "broken.yaml", "responses: [{body: {unterminated"))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestUploadRejectsPathEscape(t *testing.T) {
	f := newFixture(t, true)

	for _, name := range []string{"../escape.yaml", "a/b.yaml", "", "noext"} {
		rec := f.do(t, http.MethodPost, "/admin/upload/rule", uploadBody(t, name, "responses:\n  - body: {}\n"))
		assert.Equal(t, http.StatusBadRequest, rec.Code, name)
	}
}

func TestUploadRejectsWrongExtension(t *testing.T) {
	f := newFixture(t, true)
	rec := f.do(t, http.MethodPost, "/admin/upload/proto", uploadBody(t, "rule.yaml", "x"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSanitizeFilename(t *testing.T) {
	name, err := sanitizeFilename("greeter.proto", []string{".proto"})
	require.NoError(t, err)
	assert.Equal(t, "greeter.proto", name)

	for _, bad := range []string{"", "../x.proto", "dir/x.proto", "x.txt"} {
		_, err := sanitizeFilename(bad, []string{".proto"})
		assert.Error(t, err, bad)
	}
}
