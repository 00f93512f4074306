package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/arjunmehta/hlsvod/internal/apperr"
	"github.com/arjunmehta/hlsvod/internal/cache"
	"github.com/arjunmehta/hlsvod/internal/database"
	"github.com/arjunmehta/hlsvod/internal/logging"
	"github.com/arjunmehta/hlsvod/internal/metrics"
	"github.com/arjunmehta/hlsvod/internal/producer"
	"github.com/arjunmehta/hlsvod/internal/storage"
	"github.com/arjunmehta/hlsvod/internal/streamer"
	"github.com/arjunmehta/hlsvod/pkg/models"
)

// API wires the HTTP edge to the domain packages. Routing, multipart
// decoding, and CORS are the only concerns this package owns; everything
// below a handler's first line belongs to Producer, Repository, or
// Streamer.
type API struct {
	repo     *database.Repository
	producer *producer.Producer
	streamer *streamer.Streamer
	cache    *cache.Cache
	storage  storage.Storage
	log      *logging.Logger
}

const videoCacheTTL = 10 * time.Second

func (a *API) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := a.repo.HealthCheck(ctx); err != nil {
		respondData(c, 503, gin.H{"status": "unhealthy", "component": "database", "error": err.Error()})
		return
	}
	if err := a.cache.Ping(ctx); err != nil {
		respondData(c, 503, gin.H{"status": "unhealthy", "component": "cache", "error": err.Error()})
		return
	}
	respondData(c, 200, gin.H{"status": "healthy"})
}

// uploadResponse is the 201 body for POST /api/v1/videos/upload.
type uploadResponse struct {
	Video *models.Video         `json:"video"`
	Job   *models.TranscodingJob `json:"job"`
}

func (a *API) uploadVideo(c *gin.Context) {
	ctx := c.Request.Context()

	file, err := c.FormFile("file")
	if err != nil {
		badRequest(c, apperr.CodeFileRequired, "file is required")
		return
	}
	if file.Size > maxUploadSize {
		badRequest(c, apperr.CodeFileTooLarge, fmt.Sprintf("file exceeds the %d byte limit", maxUploadSize))
		return
	}
	ext := strings.ToLower(filepath.Ext(file.Filename))
	if err := validateExtension(ext); err != nil {
		respondError(c, err)
		return
	}

	title, err := validateTitle(c.PostForm("title"))
	if err != nil {
		respondError(c, err)
		return
	}
	tags, err := validateTags(splitTags(c.PostForm("tags")))
	if err != nil {
		respondError(c, err)
		return
	}
	description := strings.TrimSpace(c.PostForm("description"))
	if len(description) > maxDescLen {
		description = description[:maxDescLen]
	}

	resolutions := parseResolutions(c.PostForm("resolutions"))

	videoID := uuid.New().String()
	uploadPath := storage.RawUploadPath(videoID, ext)

	src, err := file.Open()
	if err != nil {
		respondError(c, apperr.Wrap(apperr.CodeStorageUnavailable, "failed to open uploaded file", err))
		return
	}
	defer src.Close()

	if err := a.storage.Save(ctx, uploadPath, src, file.Size); err != nil {
		respondError(c, apperr.Wrap(apperr.CodeStorageUnavailable, "failed to persist uploaded file", err))
		return
	}

	mimeType := file.Header.Get("Content-Type")
	video, job, err := a.producer.SubmitTranscode(ctx, producer.SubmitRequest{
		VideoID:              videoID,
		Title:                title,
		Description:          description,
		Tags:                 tags,
		OriginalName:         file.Filename,
		FileExtension:        ext,
		FileSize:             file.Size,
		MimeType:             mimeType,
		UploadPath:           uploadPath,
		RequestedResolutions: resolutions,
	})
	if err != nil {
		a.log.WithError(err).Errorf("submit transcode failed for upload %s", file.Filename)
		respondError(c, err)
		return
	}

	metrics.VideoUploadsTotal.Inc()
	metrics.VideoUploadSizeBytes.Observe(float64(file.Size))
	respondData(c, 201, uploadResponse{Video: video, Job: job})
}

func parseResolutions(raw string) []models.Resolution {
	if strings.TrimSpace(raw) == "" {
		return []models.Resolution{models.Resolution480p, models.Resolution720p, models.Resolution1080p}
	}
	var out []models.Resolution
	for _, r := range strings.Split(raw, ",") {
		r = strings.TrimSpace(r)
		switch models.Resolution(r) {
		case models.Resolution480p, models.Resolution720p, models.Resolution1080p:
			out = append(out, models.Resolution(r))
		}
	}
	return out
}

func (a *API) getVideo(c *gin.Context) {
	ctx := c.Request.Context()
	videoID := c.Param("id")

	if cached, err := a.cache.GetVideo(ctx, videoID); err == nil && cached != nil {
		respondData(c, 200, cached)
		return
	}

	video, err := a.repo.FindVideoByID(ctx, videoID)
	if err != nil {
		respondError(c, err)
		return
	}
	_ = a.cache.SetVideo(ctx, video, videoCacheTTL)
	respondData(c, 200, video)
}

// statusResponse is the body for GET /api/v1/videos/{id}/status.
type statusResponse struct {
	VideoStatus  models.VideoStatus     `json:"videoStatus"`
	JobStatus    models.JobStatus       `json:"jobStatus"`
	Progress     models.ProgressDetail  `json:"progress"`
	AttemptCount int                    `json:"attemptCount"`
	ErrorMessage string                 `json:"errorMessage,omitempty"`
}

func (a *API) getVideoStatus(c *gin.Context) {
	ctx := c.Request.Context()
	videoID := c.Param("id")

	video, err := a.repo.FindVideoByID(ctx, videoID)
	if err != nil {
		respondError(c, err)
		return
	}
	job, err := a.repo.FindJobByVideoID(ctx, videoID)
	if err != nil {
		respondError(c, err)
		return
	}

	respondData(c, 200, statusResponse{
		VideoStatus:  video.Status,
		JobStatus:    job.Status,
		Progress:     job.ProgressData,
		AttemptCount: job.AttemptCount,
		ErrorMessage: job.ErrorMessage,
	})
}

func (a *API) listVideos(c *gin.Context) {
	ctx := c.Request.Context()

	filter := models.VideoFilter{
		Page:      atoiDefault(c.Query("page"), 1),
		Limit:     atoiDefault(c.Query("limit"), 20),
		SortBy:    c.Query("sortBy"),
		SortOrder: c.Query("sortOrder"),
		Status:    models.VideoStatus(c.Query("status")),
		Search:    c.Query("search"),
		Resolution: c.Query("resolution"),
	}
	if tags := c.Query("tags"); tags != "" {
		filter.Tags = splitTags(tags)
	}
	if from := c.Query("dateFrom"); from != "" {
		if t, err := time.Parse(time.RFC3339, from); err == nil {
			filter.DateFrom = &t
		} else {
			badRequest(c, apperr.CodeInvalidTagsFormat, "dateFrom must be RFC3339")
			return
		}
	}
	if to := c.Query("dateTo"); to != "" {
		if t, err := time.Parse(time.RFC3339, to); err == nil {
			filter.DateTo = &t
		} else {
			badRequest(c, apperr.CodeInvalidTagsFormat, "dateTo must be RFC3339")
			return
		}
	}

	videos, total, err := a.repo.FindVideosPaginated(ctx, filter)
	if err != nil {
		respondError(c, err)
		return
	}

	filter.Normalize()
	respondData(c, 200, gin.H{
		"videos": videos,
		"page":   filter.Page,
		"limit":  filter.Limit,
		"total":  total,
	})
}

func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func (a *API) deleteVideo(c *gin.Context) {
	ctx := c.Request.Context()
	videoID := c.Param("id")

	video, err := a.repo.FindVideoByID(ctx, videoID)
	if err != nil {
		respondError(c, err)
		return
	}

	// Best-effort blob cleanup: errors are logged, never block the DB
	// delete or the 200 response.
	if err := a.storage.Rmdir(ctx, storage.VideoDir(videoID)); err != nil {
		a.log.WithVideoID(videoID).WithError(err).Warnf("failed to remove hls artifacts during delete")
	}
	if err := a.storage.Rmdir(ctx, storage.ThumbnailDir(videoID)); err != nil {
		a.log.WithVideoID(videoID).WithError(err).Warnf("failed to remove thumbnail during delete")
	}
	if video.UploadPath != "" {
		if err := a.storage.Delete(ctx, video.UploadPath); err != nil {
			a.log.WithVideoID(videoID).WithError(err).Warnf("failed to remove source upload during delete")
		}
	}

	if err := a.repo.DeleteVideo(ctx, videoID); err != nil {
		respondError(c, err)
		return
	}
	_ = a.cache.InvalidateVideo(ctx, videoID)
	_ = a.cache.InvalidateJobProgress(ctx, videoID)

	respondData(c, 200, gin.H{"message": "video deleted", "videoId": videoID})
}

const (
	playlistContentType = "application/vnd.apple.mpegurl"
	segmentContentType  = "video/mp2t"
	thumbnailContentType = "image/jpeg"
)

func (a *API) getMasterPlaylist(c *gin.Context) {
	data, err := a.streamer.GetMasterPlaylist(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.Header("Cache-Control", "public, max-age=300")
	c.Data(200, playlistContentType, data)
}

func (a *API) getVariantPlaylist(c *gin.Context) {
	data, err := a.streamer.GetPlaylist(c.Request.Context(), c.Param("id"), models.Resolution(c.Param("resolution")))
	if err != nil {
		respondError(c, err)
		return
	}
	c.Header("Cache-Control", "public, max-age=300")
	c.Data(200, playlistContentType, data)
}

func (a *API) getSegment(c *gin.Context) {
	data, err := a.streamer.GetSegment(c.Request.Context(), c.Param("id"), models.Resolution(c.Param("resolution")), c.Param("segment"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.Header("Cache-Control", "public, max-age=31536000")
	c.Header("Accept-Ranges", "bytes")
	c.Data(200, segmentContentType, data)
}

func (a *API) getThumbnail(c *gin.Context) {
	data, err := a.streamer.GetThumbnail(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.Header("Cache-Control", "public, max-age=86400")
	c.Data(200, thumbnailContentType, data)
}
