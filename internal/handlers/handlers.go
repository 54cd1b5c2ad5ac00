package handlers

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/example/faceshape/internal/auth"
	"github.com/example/faceshape/internal/pipeline"
	"github.com/example/faceshape/internal/repository"
	"github.com/example/faceshape/internal/usecase"
)

// MaxUploadSize is the largest accepted picture, in bytes.
const MaxUploadSize = 10 << 20

// multipartOverhead leaves room for boundaries and headers around the picture.
const multipartOverhead = 1 << 20

const uploadField = "picture"

// PredictionService is the use case surface the handlers depend on.
type PredictionService interface {
	Predict(ctx context.Context, userID string, upload *pipeline.Upload) (string, *pipeline.Result, error)
	GetResult(ctx context.Context, userID, requestID string) (*repository.PredictionLog, error)
	GetMetricsSummary(ctx context.Context) (*usecase.MetricsSummary, error)
}

// RegisterRoutes wires the HTTP handlers to the Gin router. Nil middlewares are skipped,
// so an unconfigured auth gate leaves the API open.
func RegisterRoutes(router *gin.Engine, svc PredictionService, middlewares ...gin.HandlerFunc) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/")
	for _, mw := range middlewares {
		if mw != nil {
			api.Use(mw)
		}
	}

	api.POST("/predict", func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxUploadSize+multipartOverhead)

		upload, status, message := readUpload(c)
		if status != 0 {
			c.JSON(status, gin.H{"error": message})
			return
		}

		userID, _ := auth.GetUserID(c.Request.Context())
		requestID, result, err := svc.Predict(c.Request.Context(), userID, upload)
		if err != nil {
			writePipelineError(c, requestID, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"request_id": requestID,
			"label":      result.Label,
			"confidence": result.Confidence,
			"message":    "Image uploaded successfully",
		})
	})

	api.GET("/result/:id", func(c *gin.Context) {
		requestID := c.Param("id")
		if requestID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "id is required"})
			return
		}

		userID, _ := auth.GetUserID(c.Request.Context())
		log, err := svc.GetResult(c.Request.Context(), userID, requestID)
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "result not found"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load result"})
			return
		}

		c.JSON(http.StatusOK, log)
	})

	api.GET("/metrics/summary", func(c *gin.Context) {
		summary, err := svc.GetMetricsSummary(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to aggregate metrics"})
			return
		}
		c.JSON(http.StatusOK, summary)
	})
}

// readUpload returns a nil upload when no picture was sent, leaving that verdict to the
// pipeline. A non-zero status rejects the request before it reaches the pipeline.
func readUpload(c *gin.Context) (*pipeline.Upload, int, string) {
	file, err := c.FormFile(uploadField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			return nil, http.StatusRequestEntityTooLarge, "image exceeds the upload limit"
		}
		return nil, 0, ""
	}
	if file.Size > MaxUploadSize {
		return nil, http.StatusRequestEntityTooLarge, "image exceeds the upload limit"
	}
	if !acceptedContentType(file.Header.Get("Content-Type")) {
		return nil, http.StatusUnsupportedMediaType, "unsupported content type"
	}

	src, err := file.Open()
	if err != nil {
		return nil, http.StatusBadRequest, "unable to open image"
	}
	defer src.Close()

	data, err := io.ReadAll(io.LimitReader(src, MaxUploadSize+1))
	if err != nil {
		return nil, http.StatusInternalServerError, "failed to read image"
	}
	if len(data) > MaxUploadSize {
		return nil, http.StatusRequestEntityTooLarge, "image exceeds the upload limit"
	}
	return &pipeline.Upload{Filename: file.Filename, Data: data}, 0, ""
}

// acceptedContentType lets undeclared and generic binary parts through; decoding decides.
func acceptedContentType(declared string) bool {
	if declared == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(declared)
	if err != nil {
		return false
	}
	return strings.HasPrefix(mediaType, "image/") || mediaType == "application/octet-stream"
}

func writePipelineError(c *gin.Context, requestID string, err error) {
	kind := pipeline.KindOf(err)
	body := gin.H{"error": kind.Message(), "code": kind}
	if requestID != "" {
		body["request_id"] = requestID
	}
	c.JSON(statusFor(kind), body)
}

func statusFor(kind pipeline.Kind) int {
	switch kind {
	case pipeline.KindMissingImage, pipeline.KindUnreadableImage:
		return http.StatusBadRequest
	case pipeline.KindNoFaceDetected, pipeline.KindFeatureExtractionFailed:
		return http.StatusUnprocessableEntity
	case pipeline.KindDetectionFailed, pipeline.KindArtifactLoadFailure:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
