package handlers

import (
	"context"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/example/lostfound/internal/auth"
	"github.com/example/lostfound/internal/corpus"
	"github.com/example/lostfound/internal/engine"
	"github.com/example/lostfound/internal/preprocess"
	"github.com/example/lostfound/internal/repository"
	"github.com/example/lostfound/internal/usecase"
)

// MaxUploadSize bounds a single photo upload.
const MaxUploadSize = 10 << 20

// photoField is the multipart field carrying the image.
const photoField = "photo"

// Service is the application surface the routes need.
type Service interface {
	Upload(ctx context.Context, phone, filename string, data []byte) (engine.Entry, error)
	Compare(ctx context.Context, phone string, data []byte) (*repository.ComparisonLog, error)
	GetResult(ctx context.Context, phone, requestID string) (*repository.ComparisonLog, error)
	ListItems(ctx context.Context) ([]engine.Entry, error)
	ListMyItems(ctx context.Context, phone string) ([]engine.Entry, error)
	GetMetricsSummary(ctx context.Context) (*usecase.MetricsSummary, error)
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, svc Service, authMiddleware gin.HandlerFunc) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	api.GET("/items", func(c *gin.Context) {
		items, err := svc.ListItems(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list items"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": entriesJSON(items)})
	})
	api.GET("/metrics", func(c *gin.Context) {
		summary, err := svc.GetMetricsSummary(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to aggregate metrics"})
			return
		}
		c.JSON(http.StatusOK, summary)
	})

	authed := api.Group("", authMiddleware)
	authed.POST("/upload", func(c *gin.Context) {
		phone, _ := auth.GetPhone(c.Request.Context())
		file, data, ok := readPhoto(c)
		if !ok {
			return
		}
		if _, err := corpus.Extension(file.Filename); err != nil {
			c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "only jpg, jpeg, png, gif, bmp and webp files are accepted"})
			return
		}

		entry, err := svc.Upload(c.Request.Context(), phone, file.Filename, data)
		if err != nil {
			if errors.Is(err, corpus.ErrUnsupportedExtension) {
				c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": err.Error()})
				return
			}
			if status, reason := inputErrorStatus(err); status != http.StatusInternalServerError {
				c.JSON(status, gin.H{"error": reason})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store report"})
			return
		}
		c.JSON(http.StatusCreated, entryJSON(entry))
	})

	authed.POST("/compare", func(c *gin.Context) {
		phone, _ := auth.GetPhone(c.Request.Context())
		_, data, ok := readPhoto(c)
		if !ok {
			return
		}

		log, err := svc.Compare(c.Request.Context(), phone, data)
		if err != nil {
			status, reason := inputErrorStatus(err)
			if status == http.StatusInternalServerError {
				c.JSON(status, gin.H{"error": "comparison failed"})
				return
			}
			c.JSON(status, gin.H{"matched": false, "reason": reason})
			return
		}

		status := http.StatusOK
		if log.Outcome == engine.OutcomeAlreadyClaimed.String() {
			status = http.StatusConflict
		}
		c.JSON(status, comparisonJSON(log))
	})

	authed.GET("/compare/:id", func(c *gin.Context) {
		phone, _ := auth.GetPhone(c.Request.Context())
		requestID := c.Param("id")

		log, err := svc.GetResult(c.Request.Context(), phone, requestID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "result not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load result"})
			return
		}
		c.JSON(http.StatusOK, comparisonJSON(log))
	})

	authed.GET("/my-items", func(c *gin.Context) {
		phone, _ := auth.GetPhone(c.Request.Context())
		items, err := svc.ListMyItems(c.Request.Context(), phone)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list items"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": entriesJSON(items)})
	})
}

// readPhoto writes the error response itself and reports false on failure.
func readPhoto(c *gin.Context) (*multipart.FileHeader, []byte, bool) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxUploadSize)

	file, err := c.FormFile(photoField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image too large"})
			return nil, nil, false
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "photo file is required"})
		return nil, nil, false
	}
	if file.Size > MaxUploadSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "image too large"})
		return nil, nil, false
	}
	if !acceptedContentType(file.Header.Get("Content-Type")) {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "unsupported content type"})
		return nil, nil, false
	}

	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unable to open image"})
		return nil, nil, false
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read image"})
		return nil, nil, false
	}
	return file, data, true
}

// acceptedContentType allows image parts and parts sent without a specific type.
func acceptedContentType(contentType string) bool {
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	return contentType == "" ||
		contentType == "application/octet-stream" ||
		strings.HasPrefix(contentType, "image/")
}

func inputErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, preprocess.ErrEmptyInput):
		return http.StatusBadRequest, "empty_input"
	case errors.Is(err, preprocess.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType, "unsupported_format"
	case errors.Is(err, preprocess.ErrDecodeFailure):
		return http.StatusBadRequest, "decode_failure"
	default:
		return http.StatusInternalServerError, ""
	}
}
