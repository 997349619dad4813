package rules

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRule(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoadSingleDocument(t *testing.T) {
	dir := t.TempDir()
	writeRule(t, dir, "helloworld.Greeter.SayHello.yaml", `
responses:
  - body:
      message: "Hello!"
    trailers:
      x-mock: "true"
      x-attempt: 3
`)

	set, statuses, err := Load(dir)
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.True(t, statuses[0].OK)

	opts := set.Candidates("helloworld.greeter.sayhello")
	require.Len(t, opts, 1)
	assert.Equal(t, "Hello!", opts[0].Body["message"])
	assert.Equal(t, "true", opts[0].Trailers["x-mock"])
	assert.Equal(t, "3", opts[0].Trailers["x-attempt"])
	assert.Equal(t, DefaultStreamDelayMS, opts[0].StreamDelayMS)
	assert.False(t, opts[0].IsStream())
}

func TestLoadKeyIsCaseInsensitive(t *testing.T) {
	dir := t.TempDir()
	writeRule(t, dir, "HelloWorld.Greeter.SayHello.yaml", `
responses:
  - body: {message: "hi"}
`)

	set, _, err := Load(dir)
	require.NoError(t, err)
	assert.Len(t, set.Candidates("helloworld.greeter.sayhello"), 1)
	assert.Len(t, set.Candidates("HELLOWORLD.GREETER.SAYHELLO"), 1)
}

func TestLoadDocumentArray(t *testing.T) {
	dir := t.TempDir()
	writeRule(t, dir, "pkg.Svc.Method.json", `[
  {"responses": [{"body": {"id": "a"}}]},
  {"responses": [{"body": {"id": "b"}}, {"body": {"id": "c"}}]}
]`)

	set, statuses, err := Load(dir)
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.True(t, statuses[0].OK)

	opts := set.Candidates("pkg.svc.method")
	require.Len(t, opts, 3)
	assert.Equal(t, "a", opts[0].Body["id"])
	assert.Equal(t, "c", opts[2].Body["id"])
	assert.Equal(t, []int{0, 1, 2}, []int{opts[0].Order, opts[1].Order, opts[2].Order})
}

func TestLoadMatchMergedIntoWhen(t *testing.T) {
	dir := t.TempDir()
	writeRule(t, dir, "pkg.Svc.Method.yaml", `
match:
  metadata:
    X-Tenant: acme
  request:
    kind: premium
responses:
  - when:
      metadata:
        x-tenant: umbrella
    body: {plan: "override"}
  - body: {plan: "shared"}
`)

	set, _, err := Load(dir)
	require.NoError(t, err)
	opts := set.Candidates("pkg.svc.method")
	require.Len(t, opts, 2)

	require.NotNil(t, opts[0].When)
	assert.Equal(t, "umbrella", opts[0].When.Metadata["x-tenant"])
	assert.Equal(t, "premium", opts[0].When.Request["kind"])

	require.NotNil(t, opts[1].When)
	assert.Equal(t, "acme", opts[1].When.Metadata["x-tenant"])
	assert.Equal(t, 2, opts[1].When.Leaves())
}

func TestLoadStreamFields(t *testing.T) {
	dir := t.TempDir()
	writeRule(t, dir, "pkg.Svc.Watch.yaml", `
responses:
  - stream_items:
      - {seq: 1}
      - {seq: 2}
    stream_delay_ms: 0
    stream_loop: true
    stream_random_order: true
`)

	set, _, err := Load(dir)
	require.NoError(t, err)
	opts := set.Candidates("pkg.svc.watch")
	require.Len(t, opts, 1)
	assert.True(t, opts[0].IsStream())
	assert.Len(t, opts[0].StreamItems, 2)
	assert.Equal(t, 0, opts[0].StreamDelayMS)
	assert.True(t, opts[0].StreamLoop)
	assert.True(t, opts[0].StreamRandomOrder)
}

func TestLoadBadFileReported(t *testing.T) {
	dir := t.TempDir()
	writeRule(t, dir, "good.Svc.A.yaml", `
responses:
  - body: {ok: true}
`)
	writeRule(t, dir, "bad.Svc.B.yaml", "responses: [{body: {unterminated")

	set, statuses, err := Load(dir)
	require.NoError(t, err)
	require.Len(t, statuses, 2)

	byFile := map[string]FileStatus{}
	for _, s := range statuses {
		byFile[s.File] = s
	}
	assert.False(t, byFile["bad.Svc.B.yaml"].OK)
	assert.NotEmpty(t, byFile["bad.Svc.B.yaml"].Error)
	assert.True(t, byFile["good.Svc.A.yaml"].OK)

	assert.Len(t, set.Candidates("bad.svc.b"), 0)
	assert.Len(t, set.Candidates("good.svc.a"), 1)
}

func TestLoadNoResponsesReported(t *testing.T) {
	dir := t.TempDir()
	writeRule(t, dir, "pkg.Svc.Empty.yaml", `match: {metadata: {k: v}}`)

	set, statuses, err := Load(dir)
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.False(t, statuses[0].OK)
	assert.Contains(t, statuses[0].Error, "no responses")
	assert.Equal(t, 0, set.Len())
}

func TestLoadNestedDirectories(t *testing.T) {
	dir := t.TempDir()
	writeRule(t, dir, "sub/inner/pkg.Svc.Deep.yml", `
responses:
  - body: {found: true}
`)

	set, statuses, err := Load(dir)
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, "sub/inner/pkg.Svc.Deep.yml", statuses[0].File)
	assert.Len(t, set.Candidates("pkg.svc.deep"), 1)
}

func TestLoadEmptyDir(t *testing.T) {
	dir := t.TempDir()
	set, statuses, err := Load(dir)
	require.NoError(t, err)
	assert.Empty(t, statuses)
	assert.Equal(t, 0, set.Len())
	assert.Empty(t, set.Keys())
}

func TestLoadIgnoresOtherExtensions(t *testing.T) {
	dir := t.TempDir()
	writeRule(t, dir, "README.md", "# not a rule")
	writeRule(t, dir, "pkg.Svc.M.yaml", `
responses:
  - body: {}
`)

	set, statuses, err := Load(dir)
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, 1, set.Len())
	assert.Equal(t, []string{"pkg.svc.m"}, set.Keys())
}

func TestWhenLeavesCountsNestedObjects(t *testing.T) {
	w := &When{
		Metadata: map[string]string{"x-tenant": "acme"},
		Request: map[string]any{
			"kind": "x",
			"user": map[string]any{
				"id":      float64(1),
				"profile": map[string]any{"plan": "pro"},
			},
		},
	}
	assert.Equal(t, 4, w.Leaves())

	var none *When
	assert.Equal(t, 0, none.Leaves())
	assert.Equal(t, 1, (&When{Request: map[string]any{"empty": map[string]any{}}}).Leaves())
}

func TestStringifyTrailers(t *testing.T) {
	out := stringifyTrailers(map[string]any{
		"s": "plain",
		"b": true,
		"i": float64(42),
		"f": 1.5,
	})
	assert.Equal(t, "plain", out["s"])
	assert.Equal(t, "true", out["b"])
	assert.Equal(t, "42", out["i"])
	assert.Equal(t, "1.5", out["f"])
	assert.Nil(t, stringifyTrailers(nil))
}
