package server

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// APIResponse is the envelope for every JSON endpoint.
type APIResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ClaimPathsRequest names files the server can already read.
type ClaimPathsRequest struct {
	Files []string `json:"files" binding:"required,min=1"`
}

// HealthResponse is returned by /api/health.
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Timestamp time.Time         `json:"timestamp"`
	Uptime    string            `json:"uptime"`
	Stages    []string          `json:"stages,omitempty"`
	Breakers  map[string]string `json:"breakers,omitempty"`
}

func (s *Server) handleHealth(c *gin.Context) {
	response := HealthResponse{
		Status:    "ok",
		Version:   s.version,
		Timestamp: time.Now(),
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Stages:    s.stageNames,
	}
	if s.breakers != nil {
		response.Breakers = s.breakers()
		for _, state := range response.Breakers {
			if state == "open" {
				response.Status = "degraded"
				break
			}
		}
	}
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: response})
}

// handleUpload stores the multipart "files" in a per-request directory, runs
// the claim and removes the directory afterwards.
func (s *Server) handleUpload(c *gin.Context) {
	if s.config.MaxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.config.MaxUploadBytes)
	}
	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, APIResponse{Error: fmt.Sprintf("invalid multipart form: %v", err)})
		return
	}
	uploads := form.File["files"]
	if len(uploads) == 0 {
		c.JSON(http.StatusBadRequest, APIResponse{Error: "no files uploaded"})
		return
	}

	if s.config.UploadDir != "" {
		if err := os.MkdirAll(s.config.UploadDir, 0o755); err != nil {
			s.logger.Error("Failed to create upload dir: %v", err)
			c.JSON(http.StatusInternalServerError, APIResponse{Error: "failed to store uploads"})
			return
		}
	}
	dir, err := os.MkdirTemp(s.config.UploadDir, "claim-*")
	if err != nil {
		s.logger.Error("Failed to create upload dir: %v", err)
		c.JSON(http.StatusInternalServerError, APIResponse{Error: "failed to store uploads"})
		return
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			s.logger.Warn("Failed to remove uploads in %s: %v", dir, err)
		}
	}()

	files := make([]string, 0, len(uploads))
	for i, upload := range uploads {
		dst := filepath.Join(dir, fmt.Sprintf("%02d_%s", i, filepath.Base(upload.Filename)))
		if err := c.SaveUploadedFile(upload, dst); err != nil {
			s.logger.Error("Failed to save upload %s: %v", upload.Filename, err)
			c.JSON(http.StatusInternalServerError, APIResponse{Error: "failed to store uploads"})
			return
		}
		files = append(files, dst)
	}

	result := s.runner.Run(c.Request.Context(), files)
	s.remember(result)
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: result})
}

var errPathsDisabled = errors.New("path requests are disabled; set server.path_root")

// resolvePaths maps request paths into the configured root. Relative paths
// are joined to the root; anything resolving outside it, through ".." or a
// symlink, is rejected.
func (s *Server) resolvePaths(files []string) ([]string, error) {
	root := strings.TrimSpace(s.config.PathRoot)
	if root == "" {
		return nil, errPathsDisabled
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("path root: %w", err)
	}
	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		realRoot = root
	}

	resolved := make([]string, 0, len(files))
	for _, file := range files {
		path := file
		if !filepath.IsAbs(path) {
			path = filepath.Join(root, path)
		}
		path = filepath.Clean(path)
		if !within(root, path) {
			return nil, fmt.Errorf("path %q is outside the allowed root", file)
		}
		if target, err := filepath.EvalSymlinks(path); err == nil && !within(realRoot, target) {
			return nil, fmt.Errorf("path %q is outside the allowed root", file)
		}
		resolved = append(resolved, path)
	}
	return resolved, nil
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (s *Server) handlePaths(c *gin.Context) {
	var req ClaimPathsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, APIResponse{Error: fmt.Sprintf("invalid request: %v", err)})
		return
	}
	files, err := s.resolvePaths(req.Files)
	if err != nil {
		c.JSON(http.StatusForbidden, APIResponse{Error: err.Error()})
		return
	}
	result := s.runner.Run(c.Request.Context(), files)
	s.remember(result)
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: result})
}

func (s *Server) handleGetResult(c *gin.Context) {
	id := c.Param("id")
	result, ok := s.results.Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, APIResponse{Error: fmt.Sprintf("no recent result for run %s", id)})
		return
	}
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: result})
}
