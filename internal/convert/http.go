package convert

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/reel-forge/internal/jobs"
)

// CorrelationHeader は相関 ID を受け渡すヘッダーです。
const CorrelationHeader = "X-Correlation-ID"

// JobService は HTTP ハンドラーが使うジョブ操作です。
type JobService interface {
	Submit(ctx context.Context, req Request) (*Submission, error)
	Get(ctx context.Context, jobID string) (*jobs.Job, error)
	Cancel(ctx context.Context, jobID string) error
}

// EventSource はジョブのイベント履歴を返します。
type EventSource interface {
	SinceJob(jobID string, seq int64) []Event
}

// VersionFunc は ffmpeg のバージョン文字列を返します。
type VersionFunc func(ctx context.Context) (string, error)

// convertRequest は POST /api/convert のリクエストボディです。省略された項目は既定値になります。
type convertRequest struct {
	InputDirectory        string  `json:"inputDirectory"`
	OutputDirectory       string  `json:"outputDirectory"`
	VideoCodec            *string `json:"videoCodec"`
	AudioCodec            *string `json:"audioCodec"`
	OutputFormat          *string `json:"outputFormat"`
	VideoBitrate          *string `json:"videoBitrate"`
	BitrateQualityProfile *string `json:"bitrateQualityProfile"`
	DeleteInputFiles      *bool   `json:"deleteInputFiles"`
	FallbackBitrate       *string `json:"fallbackBitrate"`
	CapDynamicBitrate     *bool   `json:"capDynamicBitrate"`
	ConcurrentConversions *int    `json:"concurrentConversions"`
	VerboseLogging        *bool   `json:"verboseLogging"`
	CorrelationID         string  `json:"correlationId"`
}

func (b convertRequest) toRequest() Request {
	req := DefaultRequest()
	req.InputDirectory = b.InputDirectory
	req.OutputDirectory = b.OutputDirectory
	req.CorrelationID = b.CorrelationID
	setString(&req.VideoCodec, b.VideoCodec)
	setString(&req.AudioCodec, b.AudioCodec)
	setString(&req.OutputFormat, b.OutputFormat)
	setString(&req.VideoBitrate, b.VideoBitrate)
	setString(&req.BitrateQualityProfile, b.BitrateQualityProfile)
	setString(&req.FallbackBitrate, b.FallbackBitrate)
	if b.DeleteInputFiles != nil {
		req.DeleteInputFiles = *b.DeleteInputFiles
	}
	if b.CapDynamicBitrate != nil {
		req.CapDynamicBitrate = *b.CapDynamicBitrate
	}
	if b.ConcurrentConversions != nil {
		req.ConcurrentConversions = *b.ConcurrentConversions
	}
	if b.VerboseLogging != nil {
		req.VerboseLogging = *b.VerboseLogging
	}
	return req
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

// SubmitHandler は POST /api/convert のハンドラーを返します。
func SubmitHandler(svc JobService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body convertRequest
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    CodeInvalidInput,
				"message": "JSON 形式で変換パラメータを送信してください。",
			})
			return
		}

		req := body.toRequest()
		if req.CorrelationID == "" {
			req.CorrelationID = strings.TrimSpace(c.GetHeader(CorrelationHeader))
		}

		sub, err := svc.Submit(c.Request.Context(), req)
		if err != nil {
			respondWithError(c, err)
			return
		}

		c.Header(CorrelationHeader, sub.CorrelationID)
		c.JSON(http.StatusAccepted, sub)
	}
}

// JobStatusHandler は GET /api/jobs/:id のハンドラーを返します。
func JobStatusHandler(svc JobService) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID, ok := jobIDParam(c)
		if !ok {
			return
		}
		job, err := svc.Get(c.Request.Context(), jobID)
		if err != nil {
			respondWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, job)
	}
}

// CancelHandler は POST /api/jobs/:id/cancel のハンドラーを返します。
func CancelHandler(svc JobService) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID, ok := jobIDParam(c)
		if !ok {
			return
		}
		if err := svc.Cancel(c.Request.Context(), jobID); err != nil {
			respondWithError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{
			"jobId":   jobID,
			"message": "キャンセルを受け付けました。",
		})
	}
}

// EventsHandler は GET /api/jobs/:id/events のハンドラーを返します。since より後のイベントを返します。
func EventsHandler(svc JobService, events EventSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID, ok := jobIDParam(c)
		if !ok {
			return
		}

		var since int64
		if raw := strings.TrimSpace(c.Query("since")); raw != "" {
			v, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || v < 0 {
				c.JSON(http.StatusBadRequest, gin.H{
					"code":    CodeInvalidInput,
					"message": "since は 0 以上の整数で指定してください。",
				})
				return
			}
			since = v
		}

		if _, err := svc.Get(c.Request.Context(), jobID); err != nil {
			respondWithError(c, err)
			return
		}

		list := events.SinceJob(jobID, since)
		if list == nil {
			list = []Event{}
		}
		c.JSON(http.StatusOK, gin.H{
			"jobId":  jobID,
			"events": list,
		})
	}
}

// HealthHandler は GET /health のハンドラーを返します。ffmpeg が使えない場合は 503 を返します。
func HealthHandler(version VersionFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		v, err := version(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":  "unhealthy",
				"code":    "FFMPEG_NOT_FOUND",
				"message": "ffmpeg が見つからないか実行できません。",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":        "healthy",
			"ffmpegVersion": v,
		})
	}
}

func jobIDParam(c *gin.Context) (string, bool) {
	jobID := strings.TrimSpace(c.Param("id"))
	if jobID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    CodeInvalidInput,
			"message": "jobId を指定してください。",
		})
		return "", false
	}
	return jobID, true
}

func respondWithError(c *gin.Context, err error) {
	var apiErr *Error
	switch {
	case errors.As(err, &apiErr):
		status := http.StatusBadRequest
		switch apiErr.Code {
		case CodeNotFound, CodeJobNotFound:
			status = http.StatusNotFound
		case CodeQueueFailure:
			status = http.StatusServiceUnavailable
		case CodeStoreFailure, CodeInternalError:
			status = http.StatusInternalServerError
		}
		c.JSON(status, gin.H{
			"code":    apiErr.Code,
			"message": apiErr.Message,
		})
	case errors.Is(err, context.Canceled):
		c.JSON(http.StatusRequestTimeout, gin.H{
			"code":    "REQUEST_CANCELED",
			"message": "リクエストがキャンセルされました。",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    CodeInternalError,
			"message": "サーバー内部でエラーが発生しました。",
		})
	}
}
