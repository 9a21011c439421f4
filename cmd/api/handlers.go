package main

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/skillport/skillport/internal/courses"
	"github.com/skillport/skillport/internal/storage"
	"github.com/skillport/skillport/pkg/config"
	"github.com/skillport/skillport/pkg/types"
)

// formUpload reads one multipart file field into memory. A missing field is
// not an error: the caller decides whether the upload was mandatory.
func formUpload(c *gin.Context, field string, maxBytes int64) (*storage.UploadRequest, error) {
	header, err := c.FormFile(field)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return nil, nil
		}
		return nil, err
	}
	if maxBytes > 0 && header.Size > maxBytes {
		return nil, errors.New("file exceeds the upload size limit")
	}
	return readUpload(header)
}

func readUpload(header *multipart.FileHeader) (*storage.UploadRequest, error) {
	file, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, err
	}

	return &storage.UploadRequest{
		Data:        data,
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
	}, nil
}

// respondServiceError maps service errors onto HTTP statuses, keeping
// "missing required input" (4xx) distinct from upload subsystem failures
// (502).
func respondServiceError(c *gin.Context, err error) {
	status := http.StatusInternalServerError

	var terminal *storage.AllProvidersFailedError
	switch {
	case errors.Is(err, courses.ErrVideoRequired):
		status = http.StatusBadRequest
	case errors.Is(err, courses.ErrCourseNotFound),
		errors.Is(err, courses.ErrModuleNotFound),
		errors.Is(err, courses.ErrEnrollmentNotFound):
		status = http.StatusNotFound
	case errors.Is(err, courses.ErrNotInstructor):
		status = http.StatusForbidden
	case errors.Is(err, courses.ErrAlreadyEnrolled),
		errors.Is(err, courses.ErrCourseNotPublished):
		status = http.StatusConflict
	case errors.As(err, &terminal):
		status = http.StatusBadGateway
	}

	c.JSON(status, types.APIResponse{Success: false, Error: err.Error()})
}

func parseIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, types.APIResponse{Success: false, Error: "invalid " + name})
		return uuid.Nil, false
	}
	return id, true
}

func handleCreateCourse(cfg *config.Config, service *courses.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		price, _ := strconv.ParseFloat(c.PostForm("price"), 64)

		thumbnail, err := formUpload(c, "thumbnail", cfg.Server.MaxUploadBytes)
		if err != nil {
			c.JSON(http.StatusBadRequest, types.APIResponse{Success: false, Error: err.Error()})
			return
		}

		course, err := service.CreateCourse(c.Request.Context(), &courses.CreateCourseInput{
			Title:        c.PostForm("title"),
			Description:  c.PostForm("description"),
			Category:     c.PostForm("category"),
			Level:        c.PostForm("level"),
			Price:        price,
			InstructorID: currentUserID(c),
			Thumbnail:    thumbnail,
		})
		if err != nil {
			respondServiceError(c, err)
			return
		}

		c.JSON(http.StatusCreated, types.APIResponse{Success: true, Data: course})
	}
}

func handleListCourses(service *courses.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
		offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

		list, err := service.ListPublished(c.Request.Context(), &types.CourseFilter{
			Category:     c.Query("category"),
			Level:        c.Query("level"),
			InstructorID: c.Query("instructor_id"),
			Limit:        limit,
			Offset:       offset,
		})
		if err != nil {
			respondServiceError(c, err)
			return
		}

		c.JSON(http.StatusOK, types.APIResponse{Success: true, Data: list})
	}
}

func handleGetCourse(service *courses.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseIDParam(c, "id")
		if !ok {
			return
		}

		course, err := service.GetCourse(c.Request.Context(), id)
		if err != nil {
			respondServiceError(c, err)
			return
		}

		c.JSON(http.StatusOK, types.APIResponse{Success: true, Data: course})
	}
}

func handlePublishCourse(service *courses.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseIDParam(c, "id")
		if !ok {
			return
		}

		course, err := service.PublishCourse(c.Request.Context(), id, currentUserID(c))
		if err != nil {
			respondServiceError(c, err)
			return
		}

		c.JSON(http.StatusOK, types.APIResponse{Success: true, Data: course})
	}
}

func handleAddModule(service *courses.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseIDParam(c, "id")
		if !ok {
			return
		}

		var body struct {
			Title    string `json:"title" binding:"required"`
			Position int    `json:"position"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, types.APIResponse{Success: false, Error: err.Error()})
			return
		}

		module, err := service.AddModule(c.Request.Context(), id, currentUserID(c), body.Title, body.Position)
		if err != nil {
			respondServiceError(c, err)
			return
		}

		c.JSON(http.StatusCreated, types.APIResponse{Success: true, Data: module})
	}
}

func handleAddLesson(cfg *config.Config, service *courses.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseIDParam(c, "id")
		if !ok {
			return
		}

		duration, _ := strconv.Atoi(c.PostForm("duration"))
		position, _ := strconv.Atoi(c.PostForm("position"))
		preview, _ := strconv.ParseBool(c.PostForm("is_preview"))

		video, err := formUpload(c, "video", cfg.Server.MaxUploadBytes)
		if err != nil {
			c.JSON(http.StatusBadRequest, types.APIResponse{Success: false, Error: err.Error()})
			return
		}

		lesson, err := service.AddLesson(c.Request.Context(), id, &courses.AddLessonInput{
			Title:     c.PostForm("title"),
			Type:      c.PostForm("type"),
			Content:   c.PostForm("content"),
			Duration:  duration,
			Position:  position,
			IsPreview: preview,
			Video:     video,
		})
		if err != nil {
			respondServiceError(c, err)
			return
		}

		c.JSON(http.StatusCreated, types.APIResponse{Success: true, Data: lesson})
	}
}

func handleEnroll(service *courses.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseIDParam(c, "id")
		if !ok {
			return
		}

		enrollment, err := service.Enroll(c.Request.Context(), id, currentUserID(c))
		if err != nil {
			respondServiceError(c, err)
			return
		}

		c.JSON(http.StatusCreated, types.APIResponse{Success: true, Data: enrollment})
	}
}

func handleRecordProgress(service *courses.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseIDParam(c, "id")
		if !ok {
			return
		}

		var body struct {
			LessonID string `json:"lesson_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, types.APIResponse{Success: false, Error: err.Error()})
			return
		}
		lessonID, err := uuid.Parse(body.LessonID)
		if err != nil {
			c.JSON(http.StatusBadRequest, types.APIResponse{Success: false, Error: "invalid lesson_id"})
			return
		}

		enrollment, err := service.RecordProgress(c.Request.Context(), id, currentUserID(c), lessonID)
		if err != nil {
			respondServiceError(c, err)
			return
		}

		c.JSON(http.StatusOK, types.APIResponse{Success: true, Data: enrollment})
	}
}

func handleListNotifications(service *courses.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		notifications, err := service.ListNotifications(c.Request.Context(), currentUserID(c))
		if err != nil {
			respondServiceError(c, err)
			return
		}

		c.JSON(http.StatusOK, types.APIResponse{Success: true, Data: notifications})
	}
}

func handleMarkNotificationRead(service *courses.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := parseIDParam(c, "id")
		if !ok {
			return
		}

		if err := service.MarkNotificationRead(c.Request.Context(), id, currentUserID(c)); err != nil {
			respondServiceError(c, err)
			return
		}

		c.JSON(http.StatusOK, types.APIResponse{Success: true})
	}
}

func handleUpsertProfile(cfg *config.Config, service *courses.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		avatar, err := formUpload(c, "avatar", cfg.Server.MaxUploadBytes)
		if err != nil {
			c.JSON(http.StatusBadRequest, types.APIResponse{Success: false, Error: err.Error()})
			return
		}

		profile, err := service.UpsertProfile(c.Request.Context(), currentUserID(c), &courses.ProfileInput{
			DisplayName:   c.PostForm("display_name"),
			Bio:           c.PostForm("bio"),
			WalletAddress: c.PostForm("wallet_address"),
			Avatar:        avatar,
		})
		if err != nil {
			respondServiceError(c, err)
			return
		}

		c.JSON(http.StatusOK, types.APIResponse{Success: true, Data: profile})
	}
}

func handleSubscribe(service *courses.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body struct {
			Plan string `json:"plan" binding:"required"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, types.APIResponse{Success: false, Error: err.Error()})
			return
		}

		subscription, err := service.Subscribe(c.Request.Context(), currentUserID(c), body.Plan)
		if err != nil {
			respondServiceError(c, err)
			return
		}

		c.JSON(http.StatusCreated, types.APIResponse{Success: true, Data: subscription})
	}
}

func handleCancelSubscription(service *courses.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := service.CancelSubscription(c.Request.Context(), currentUserID(c)); err != nil {
			respondServiceError(c, err)
			return
		}

		c.JSON(http.StatusOK, types.APIResponse{Success: true})
	}
}

// handleUpload exposes single-file resolution directly.
func handleUpload(cfg *config.Config, uploads *storage.Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		upload, err := formUpload(c, "file", cfg.Server.MaxUploadBytes)
		if err != nil {
			c.JSON(http.StatusBadRequest, types.APIResponse{Success: false, Error: err.Error()})
			return
		}
		if upload == nil {
			c.JSON(http.StatusBadRequest, types.APIResponse{Success: false, Error: "file is required"})
			return
		}

		result, err := uploads.Resolve(c.Request.Context(), upload)
		if err != nil {
			respondServiceError(c, err)
			return
		}

		c.JSON(http.StatusCreated, types.APIResponse{Success: true, Data: result})
	}
}

// handleUploadDirectory exposes directory resolution: all files in the
// multipart form are bundled under one root CID.
func handleUploadDirectory(cfg *config.Config, uploads *storage.Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		form, err := c.MultipartForm()
		if err != nil {
			c.JSON(http.StatusBadRequest, types.APIResponse{Success: false, Error: err.Error()})
			return
		}

		headers := form.File["files"]
		if len(headers) == 0 {
			c.JSON(http.StatusBadRequest, types.APIResponse{Success: false, Error: "at least one file is required"})
			return
		}

		requests := make([]*storage.UploadRequest, 0, len(headers))
		for _, header := range headers {
			if cfg.Server.MaxUploadBytes > 0 && header.Size > cfg.Server.MaxUploadBytes {
				c.JSON(http.StatusBadRequest, types.APIResponse{Success: false,
					Error: "file exceeds the upload size limit"})
				return
			}
			upload, err := readUpload(header)
			if err != nil {
				c.JSON(http.StatusBadRequest, types.APIResponse{Success: false, Error: err.Error()})
				return
			}
			requests = append(requests, upload)
		}

		result, err := uploads.ResolveDirectory(c.Request.Context(), requests)
		if err != nil {
			respondServiceError(c, err)
			return
		}

		c.JSON(http.StatusCreated, types.APIResponse{Success: true, Data: result})
	}
}
