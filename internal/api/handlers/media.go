package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/audibible/narrator/internal/logx"
	"github.com/audibible/narrator/internal/media"
)

type MediaConfig struct {
	TempDir        string
	MaxUploadBytes int64
}

// MediaHandler accepts background images for video jobs. Every upload is
// kept twice: a one-shot copy the pipeline deletes after use and a
// persistent copy for later jobs.
type MediaHandler struct {
	uploadDir     string
	persistentDir string
	tempDir       string
	maxBytes      int64
	now           func() time.Time
}

func NewMediaHandler(cfg MediaConfig) *MediaHandler {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 10 << 20
	}
	return &MediaHandler{
		uploadDir:     filepath.Join(cfg.TempDir, "images"),
		persistentDir: filepath.Join(cfg.TempDir, "persistent_images"),
		tempDir:       cfg.TempDir,
		maxBytes:      cfg.MaxUploadBytes,
		now:           time.Now,
	}
}

func (h *MediaHandler) UploadImage(c *gin.Context) {
	logger := logx.FromCtx(c.Request.Context())
	limit := h.maxBytes + 1<<20
	if c.Request.ContentLength > limit {
		respondError(c, http.StatusRequestEntityTooLarge, "Image exceeds the upload limit")
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)

	fh, err := c.FormFile("backgroundImage")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(c, http.StatusRequestEntityTooLarge, "Image exceeds the upload limit")
			return
		}
		respondError(c, http.StatusBadRequest, "No image file uploaded")
		return
	}
	if fh.Size > h.maxBytes {
		respondError(c, http.StatusRequestEntityTooLarge, "Image exceeds the upload limit")
		return
	}
	if !strings.HasPrefix(fh.Header.Get("Content-Type"), "image/") {
		respondError(c, http.StatusBadRequest, "Only image files are allowed!")
		return
	}

	imageID := "bg-image-" + uuid.NewString() + strings.ToLower(filepath.Ext(fh.Filename))
	imagePath := filepath.Join(h.uploadDir, imageID)
	if err := os.MkdirAll(h.uploadDir, 0755); err != nil {
		respondInternal(c, http.StatusInternalServerError, "Image upload failed", err)
		return
	}
	if err := c.SaveUploadedFile(fh, imagePath); err != nil {
		respondInternal(c, http.StatusInternalServerError, "Image upload failed", err)
		return
	}

	info, err := media.InspectImage(imagePath)
	if err != nil {
		os.Remove(imagePath)
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	persistentPath := filepath.Join(h.persistentDir, fmt.Sprintf("bg_%d_%s", h.now().UnixMilli(), imageID))
	if err := copyFile(imagePath, persistentPath); err != nil {
		respondInternal(c, http.StatusInternalServerError, "Image upload failed", err)
		return
	}

	logger.Info().Str("image", imageID).Str("format", info.Format).Int("width", info.Width).Int("height", info.Height).Msg("background image uploaded")

	c.JSON(http.StatusOK, gin.H{
		"success":             true,
		"message":             "Image uploaded successfully",
		"imageId":             imageID,
		"imagePath":           imagePath,
		"persistentImagePath": persistentPath,
		"imageInfo": gin.H{
			"format": info.Format,
			"width":  info.Width,
			"height": info.Height,
			"size":   fh.Size,
		},
	})
}

type cleanupImageRequest struct {
	ImagePath string `json:"imagePath"`
}

func (h *MediaHandler) CleanupImage(c *gin.Context) {
	var req cleanupImageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "Invalid request")
		return
	}
	if req.ImagePath == "" {
		c.JSON(http.StatusOK, gin.H{"success": true, "message": "Image already removed or not found"})
		return
	}
	if !withinDir(h.tempDir, req.ImagePath) {
		respondError(c, http.StatusBadRequest, "Invalid image path")
		return
	}

	if err := os.Remove(req.ImagePath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			c.JSON(http.StatusOK, gin.H{"success": true, "message": "Image already removed or not found"})
			return
		}
		respondInternal(c, http.StatusInternalServerError, "Failed to cleanup image", err)
		return
	}
	logx.FromCtx(c.Request.Context()).Info().Str("image", req.ImagePath).Msg("background image removed")
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Image cleaned up"})
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func (h *MediaHandler) RegisterRoutes(r *gin.RouterGroup, admin gin.HandlerFunc) {
	r.POST("/upload-image", h.UploadImage)
	r.DELETE("/cleanup-image", admin, h.CleanupImage)
}
