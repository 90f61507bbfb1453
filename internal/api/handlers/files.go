package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/audibible/narrator/internal/core"
	"github.com/audibible/narrator/internal/db"
	"github.com/audibible/narrator/internal/logx"
)

type ArtifactCatalog interface {
	List(ctx context.Context) ([]*db.Artifact, error)
	DeleteByFilename(ctx context.Context, filename string) (bool, error)
	Stats(ctx context.Context) (*db.ArtifactStats, error)
}

// generatedName matches "{book}_{chapter}_{version}[_VIDEO]_{stamp}.{ext}".
var generatedName = regexp.MustCompile(`^(.+?)_(\d+)_([A-Z0-9]+)(_VIDEO)?_(.+)\.(mp3|mp4)$`)

type FileEntry struct {
	Filename    string    `json:"filename"`
	Type        string    `json:"type"`
	Size        int64     `json:"size"`
	Modified    time.Time `json:"modified"`
	DownloadURL string    `json:"downloadUrl"`
	JobID       string    `json:"jobId,omitempty"`
	Book        string    `json:"book,omitempty"`
	Chapter     int       `json:"chapter,omitempty"`
	Version     string    `json:"version,omitempty"`
	Duration    int       `json:"duration,omitempty"`
	Created     time.Time `json:"created"`
}

type FilesSummary struct {
	Total int `json:"total"`
	Audio int `json:"audio"`
	Video int `json:"video"`
}

type FilesHandler struct {
	outputDir string
	catalog   ArtifactCatalog
}

func NewFilesHandler(outputDir string, catalog ArtifactCatalog) *FilesHandler {
	return &FilesHandler{outputDir: outputDir, catalog: catalog}
}

func validFilename(name string) bool {
	return name != "" && !strings.Contains(name, "..") && !strings.ContainsAny(name, `/\`)
}

// friendlyName turns a generated file name into "{Book}_Chapter_{n}[_Video].ext".
func friendlyName(filename string) string {
	m := generatedName.FindStringSubmatch(filename)
	if m == nil {
		return filename
	}
	suffix := ""
	if m[4] != "" {
		suffix = "_Video"
	}
	return fmt.Sprintf("%s_Chapter_%s%s.%s", m[1], m[2], suffix, m[6])
}

func (h *FilesHandler) Download(c *gin.Context) {
	filename := c.Param("filename")
	if !validFilename(filename) {
		respondError(c, http.StatusBadRequest, "Invalid filename")
		return
	}

	path := filepath.Join(h.outputDir, filename)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		respondError(c, http.StatusNotFound, "File not found")
		return
	}

	contentType := "audio/mpeg"
	if strings.EqualFold(filepath.Ext(filename), ".mp4") {
		contentType = "video/mp4"
	}
	name := friendlyName(filename)
	logx.FromCtx(c.Request.Context()).Debug().Str("file", filename).Str("as", name).Msg("download")

	c.Header("Content-Type", contentType)
	c.FileAttachment(path, name)
}

func (h *FilesHandler) List(c *gin.Context) {
	ctx := c.Request.Context()

	entries, err := os.ReadDir(h.outputDir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		respondInternal(c, http.StatusInternalServerError, "Failed to load media files", err)
		return
	}

	catalogued := map[string]*db.Artifact{}
	if h.catalog != nil {
		artifacts, err := h.catalog.List(ctx)
		if err != nil {
			logx.FromCtx(ctx).Warn().Err(err).Msg("artifact catalog unavailable, listing files only")
		}
		for _, a := range artifacts {
			catalogued[a.Filename] = a
		}
	}

	files := []FileEntry{}
	var summary FilesSummary
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		kind := ""
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".mp3":
			kind = db.KindAudio
			summary.Audio++
		case ".mp4":
			kind = db.KindVideo
			summary.Video++
		default:
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}

		f := FileEntry{
			Filename:    e.Name(),
			Type:        kind,
			Size:        info.Size(),
			Modified:    info.ModTime(),
			Created:     info.ModTime(),
			DownloadURL: core.DownloadURL(e.Name()),
		}
		if a, ok := catalogued[e.Name()]; ok {
			f.JobID = a.JobID
			f.Book = a.Book
			f.Chapter = a.Chapter
			f.Version = a.Version
			f.Duration = a.DurationSeconds
			f.Created = a.CreatedAt
		}
		files = append(files, f)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Modified.After(files[j].Modified) })
	summary.Total = len(files)

	c.JSON(http.StatusOK, gin.H{"files": files, "summary": summary})
}

func (h *FilesHandler) Delete(c *gin.Context) {
	filename := c.Param("filename")
	if !validFilename(filename) {
		respondError(c, http.StatusBadRequest, "Invalid filename")
		return
	}

	removedFile := true
	if err := os.Remove(filepath.Join(h.outputDir, filename)); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			respondInternal(c, http.StatusInternalServerError, "Failed to delete file", err)
			return
		}
		removedFile = false
	}

	removedRow := false
	if h.catalog != nil {
		var err error
		removedRow, err = h.catalog.DeleteByFilename(c.Request.Context(), filename)
		if err != nil {
			respondInternal(c, http.StatusInternalServerError, "Failed to delete file", err)
			return
		}
	}

	if !removedFile && !removedRow {
		respondError(c, http.StatusNotFound, "File not found")
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "File deleted successfully"})
}

func (h *FilesHandler) Stats(c *gin.Context) {
	if h.catalog == nil {
		c.JSON(http.StatusOK, db.ArtifactStats{})
		return
	}
	stats, err := h.catalog.Stats(c.Request.Context())
	if err != nil {
		respondInternal(c, http.StatusInternalServerError, "Failed to load statistics", err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *FilesHandler) RegisterRoutes(r *gin.RouterGroup, admin gin.HandlerFunc) {
	r.GET("/download/:filename", h.Download)
	r.GET("/files", h.List)
	r.DELETE("/files/:filename", admin, h.Delete)
	r.GET("/stats", h.Stats)
}
