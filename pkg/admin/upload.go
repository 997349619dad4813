package admin

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/wishmock/wishmock/pkg/httputil"
)

// uploadRequest is the POST /admin/upload/{proto,rule} payload.
type uploadRequest struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
}

func (s *Server) handleUploadProto(w http.ResponseWriter, r *http.Request) {
	s.handleUpload(w, r, s.cfg.ProtoDir, []string{".proto"})
}

func (s *Server) handleUploadRule(w http.ResponseWriter, r *http.Request) {
	s.handleUpload(w, r, s.cfg.RulesDir, []string{".yaml", ".yml", ".json"})
}

// handleUpload persists the uploaded file and rebuilds the world. A
// rejected rebuild rolls the file back, so a bad upload never changes
// what the server serves.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, dir string, extensions []string) {
	var req uploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteBadRequest(w, "invalid_request", "request body must be JSON with filename and content")
		return
	}

	filename, err := sanitizeFilename(req.Filename, extensions)
	if err != nil {
		httputil.WriteBadRequest(w, "invalid_filename", err.Error())
		return
	}
	if req.Content == "" {
		httputil.WriteBadRequest(w, "empty_content", "content must not be empty")
		return
	}

	path := filepath.Join(dir, filename)

	// Remember what was there so a rejected rebuild can restore it.
	previous, statErr := os.ReadFile(path)
	existed := statErr == nil

	if err := os.MkdirAll(dir, 0o755); err != nil {
		httputil.WriteInternalError(w, "write_failed", err.Error())
		return
	}
	if err := os.WriteFile(path, []byte(req.Content), 0o644); err != nil {
		httputil.WriteInternalError(w, "write_failed", err.Error())
		return
	}

	if err := s.engine.Rebuild(r.Context()); err != nil {
		s.rollback(path, previous, existed)
		s.log.Warn("upload rejected", "file", filename, "error", err)
		httputil.WriteError(w, http.StatusUnprocessableEntity, "upload_rejected", err.Error())
		return
	}

	s.log.Info("file uploaded", "file", filename, "dir", dir)
	world := s.engine.World()
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"status":    "uploaded",
		"file":      filename,
		"methods":   world.Schema.MethodCount(),
		"rule_keys": world.Rules.Len(),
	})
}

func (s *Server) rollback(path string, previous []byte, existed bool) {
	if existed {
		if err := os.WriteFile(path, previous, 0o644); err != nil {
			s.log.Error("rollback failed", "file", path, "error", err)
		}
		return
	}
	if err := os.Remove(path); err != nil {
		s.log.Error("rollback failed", "file", path, "error", err)
	}
}

// sanitizeFilename rejects anything that could escape the target
// directory and enforces the allowed extensions.
func sanitizeFilename(name string, extensions []string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("filename must not be empty")
	}
	if filepath.Base(name) != name || strings.Contains(name, "..") {
		return "", fmt.Errorf("filename must not contain path separators: %q", name)
	}

	ext := strings.ToLower(filepath.Ext(name))
	for _, allowed := range extensions {
		if ext == allowed {
			return name, nil
		}
	}
	return "", fmt.Errorf("extension %q not allowed, want one of %s", ext, strings.Join(extensions, ", "))
}
