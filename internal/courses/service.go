// Package courses implements the course catalog: authoring, publishing,
// enrollment and progress tracking, profiles, subscriptions, and in-app
// notifications. Asset uploads (thumbnails, lesson videos, avatars) go
// through the storage resolver; a course survives a failed optional upload,
// while a missing or failed mandatory upload rejects the operation.
package courses

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/skillport/skillport/internal/common"
	"github.com/skillport/skillport/internal/storage"
	"github.com/skillport/skillport/pkg/types"
	"github.com/skillport/skillport/pkg/utils"
	"gorm.io/gorm"
)

var (
	// ErrVideoRequired distinguishes "missing required input" from upload
	// subsystem failures: video lessons must carry a video payload.
	ErrVideoRequired = errors.New("video file is required for video lessons")

	ErrCourseNotFound     = errors.New("course not found")
	ErrModuleNotFound     = errors.New("module not found")
	ErrEnrollmentNotFound = errors.New("enrollment not found")
	ErrNotInstructor      = errors.New("only the course instructor may modify the course")
	ErrAlreadyEnrolled    = errors.New("user is already enrolled in this course")
	ErrCourseNotPublished = errors.New("course is not published")
)

const publishedCoursesCacheKey = "courses:published"

// Service handles course catalog operations
type Service struct {
	DB      *common.Database
	Cache   *common.Cache
	Uploads *storage.Resolver
}

// NewService creates a new course service. Cache may be nil, which disables
// listing caching.
func NewService(db *common.Database, cache *common.Cache, uploads *storage.Resolver) *Service {
	return &Service{DB: db, Cache: cache, Uploads: uploads}
}

// CreateCourseInput carries the fields for a new course. Thumbnail is
// optional; a failed thumbnail upload does not abort course creation.
type CreateCourseInput struct {
	Title        string
	Description  string
	Category     string
	Level        string
	Price        float64
	InstructorID uuid.UUID
	Metadata     types.JSONMap
	Thumbnail    *storage.UploadRequest
}

// CreateCourse persists a draft course, resolving the optional thumbnail
// upload first. When every storage provider fails the course is still
// created with an empty asset reference.
func (s *Service) CreateCourse(ctx context.Context, in *CreateCourseInput) (*types.Course, error) {
	if in.Title == "" {
		return nil, fmt.Errorf("course title is required")
	}

	course := &types.Course{
		Title:        in.Title,
		Description:  in.Description,
		Category:     in.Category,
		Level:        in.Level,
		Price:        in.Price,
		Status:       types.CourseStatusDraft,
		InstructorID: in.InstructorID,
		Metadata:     in.Metadata,
	}

	slug, err := s.uniqueSlug(ctx, in.Title)
	if err != nil {
		return nil, err
	}
	course.Slug = slug

	if in.Thumbnail != nil {
		result, err := s.Uploads.Resolve(ctx, in.Thumbnail)
		if err != nil {
			// Thumbnails are optional: keep the course, drop the asset.
			log.Warn().Err(err).Str("course", in.Title).
				Msg("thumbnail upload failed, creating course without thumbnail")
		} else {
			course.ThumbnailCID = result.CID
			course.ThumbnailURL = result.URL
		}
	}

	if err := s.DB.WithContext(ctx).Create(course).Error; err != nil {
		return nil, fmt.Errorf("failed to create course: %w", err)
	}

	s.invalidateListing(ctx)

	log.Info().
		Str("course_id", course.ID.String()).
		Str("slug", course.Slug).
		Str("instructor", course.InstructorID.String()).
		Msg("course created")

	return course, nil
}

// uniqueSlug derives a URL slug from the title, suffixing a counter on
// collision.
func (s *Service) uniqueSlug(ctx context.Context, title string) (string, error) {
	base := utils.Slugify(title)
	if base == "" {
		base = "course"
	}
	slug := base
	for i := 2; ; i++ {
		var count int64
		if err := s.DB.WithContext(ctx).Model(&types.Course{}).
			Where("slug = ?", slug).Count(&count).Error; err != nil {
			return "", fmt.Errorf("failed to check slug: %w", err)
		}
		if count == 0 {
			return slug, nil
		}
		slug = fmt.Sprintf("%s-%d", base, i)
	}
}

// GetCourse returns a course with its modules and lessons preloaded.
func (s *Service) GetCourse(ctx context.Context, id uuid.UUID) (*types.Course, error) {
	var course types.Course
	err := s.DB.WithContext(ctx).
		Preload("Modules", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
		Preload("Modules.Lessons", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
		First(&course, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCourseNotFound
		}
		return nil, fmt.Errorf("failed to get course: %w", err)
	}
	return &course, nil
}

// ListPublished returns published courses matching the filter. The unfiltered
// first page is served from cache when available.
func (s *Service) ListPublished(ctx context.Context, filter *types.CourseFilter) ([]*types.Course, error) {
	cacheable := s.Cache != nil && filter.Category == "" && filter.Level == "" &&
		filter.InstructorID == "" && filter.Offset == 0

	if cacheable {
		var cached []*types.Course
		if err := s.Cache.Get(ctx, publishedCoursesCacheKey, &cached); err == nil {
			return cached, nil
		} else if !errors.Is(err, common.ErrCacheMiss) {
			log.Warn().Err(err).Msg("course listing cache read failed")
		}
	}

	query := s.DB.WithContext(ctx).Model(&types.Course{}).
		Where("status = ?", types.CourseStatusPublished)
	if filter.Category != "" {
		query = query.Where("category = ?", filter.Category)
	}
	if filter.Level != "" {
		query = query.Where("level = ?", filter.Level)
	}
	if filter.InstructorID != "" {
		query = query.Where("instructor_id = ?", filter.InstructorID)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	var courses []*types.Course
	if err := query.Order("created_at DESC").Find(&courses).Error; err != nil {
		return nil, fmt.Errorf("failed to list courses: %w", err)
	}

	if cacheable {
		if err := s.Cache.Set(ctx, publishedCoursesCacheKey, courses, 5*time.Minute); err != nil {
			log.Warn().Err(err).Msg("course listing cache write failed")
		}
	}

	return courses, nil
}

// PublishCourse transitions a draft to published. Only the instructor may
// publish.
func (s *Service) PublishCourse(ctx context.Context, courseID, instructorID uuid.UUID) (*types.Course, error) {
	course, err := s.GetCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if course.InstructorID != instructorID {
		return nil, ErrNotInstructor
	}

	course.Status = types.CourseStatusPublished
	if err := s.DB.WithContext(ctx).Model(course).
		Update("status", types.CourseStatusPublished).Error; err != nil {
		return nil, fmt.Errorf("failed to publish course: %w", err)
	}

	s.invalidateListing(ctx)
	return course, nil
}

// AddModule appends a module to a course.
func (s *Service) AddModule(ctx context.Context, courseID, instructorID uuid.UUID, title string, position int) (*types.CourseModule, error) {
	course, err := s.GetCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if course.InstructorID != instructorID {
		return nil, ErrNotInstructor
	}

	module := &types.CourseModule{CourseID: courseID, Title: title, Position: position}
	if err := s.DB.WithContext(ctx).Create(module).Error; err != nil {
		return nil, fmt.Errorf("failed to create module: %w", err)
	}
	return module, nil
}

// AddLessonInput carries the fields for a new lesson. Video is mandatory for
// video lessons and ignored otherwise.
type AddLessonInput struct {
	Title     string
	Type      string
	Content   string
	Duration  int
	Position  int
	IsPreview bool
	Video     *storage.UploadRequest
}

// AddLesson creates a lesson in a module. For video lessons the video upload
// is mandatory: a missing payload yields ErrVideoRequired and a storage
// failure aborts the whole operation (no lesson row is written).
func (s *Service) AddLesson(ctx context.Context, moduleID uuid.UUID, in *AddLessonInput) (*types.Lesson, error) {
	var module types.CourseModule
	if err := s.DB.WithContext(ctx).First(&module, "id = ?", moduleID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrModuleNotFound
		}
		return nil, fmt.Errorf("failed to get module: %w", err)
	}

	lessonType := in.Type
	if lessonType == "" {
		lessonType = types.LessonTypeArticle
	}

	lesson := &types.Lesson{
		ModuleID:  moduleID,
		Title:     in.Title,
		Type:      lessonType,
		Content:   in.Content,
		Duration:  in.Duration,
		Position:  in.Position,
		IsPreview: in.IsPreview,
	}

	if lessonType == types.LessonTypeVideo {
		if in.Video == nil || len(in.Video.Data) == 0 {
			return nil, ErrVideoRequired
		}
		result, err := s.Uploads.Resolve(ctx, in.Video)
		if err != nil {
			return nil, fmt.Errorf("uploading lesson video: %w", err)
		}
		lesson.VideoCID = result.CID
		lesson.VideoURL = result.URL
		lesson.VideoSize = result.Size
	}

	if err := s.DB.WithContext(ctx).Create(lesson).Error; err != nil {
		return nil, fmt.Errorf("failed to create lesson: %w", err)
	}

	log.Info().
		Str("lesson_id", lesson.ID.String()).
		Str("module_id", moduleID.String()).
		Str("type", lesson.Type).
		Msg("lesson created")

	return lesson, nil
}

// Enroll adds a user to a published course and notifies them.
func (s *Service) Enroll(ctx context.Context, courseID, userID uuid.UUID) (*types.Enrollment, error) {
	course, err := s.GetCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if course.Status != types.CourseStatusPublished {
		return nil, ErrCourseNotPublished
	}

	var existing int64
	if err := s.DB.WithContext(ctx).Model(&types.Enrollment{}).
		Where("course_id = ? AND user_id = ?", courseID, userID).
		Count(&existing).Error; err != nil {
		return nil, fmt.Errorf("failed to check enrollment: %w", err)
	}
	if existing > 0 {
		return nil, ErrAlreadyEnrolled
	}

	enrollment := &types.Enrollment{
		CourseID:   courseID,
		UserID:     userID,
		Status:     "active",
		EnrolledAt: time.Now().UTC(),
	}
	if err := s.DB.WithContext(ctx).Create(enrollment).Error; err != nil {
		return nil, fmt.Errorf("failed to create enrollment: %w", err)
	}

	notification := &types.Notification{
		UserID: userID,
		Kind:   "enrollment",
		Title:  "Enrollment confirmed",
		Body:   fmt.Sprintf("You are enrolled in %q.", course.Title),
	}
	if err := s.DB.WithContext(ctx).Create(notification).Error; err != nil {
		// Notification failure must not undo the enrollment.
		log.Warn().Err(err).Str("user", userID.String()).Msg("failed to create enrollment notification")
	}

	return enrollment, nil
}

// RecordProgress marks a lesson completed and recomputes overall progress.
func (s *Service) RecordProgress(ctx context.Context, courseID, userID, lessonID uuid.UUID) (*types.Enrollment, error) {
	var enrollment types.Enrollment
	err := s.DB.WithContext(ctx).
		First(&enrollment, "course_id = ? AND user_id = ?", courseID, userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEnrollmentNotFound
		}
		return nil, fmt.Errorf("failed to get enrollment: %w", err)
	}

	lessonKey := lessonID.String()
	for _, completed := range enrollment.CompletedLessons {
		if completed == lessonKey {
			return &enrollment, nil
		}
	}
	enrollment.CompletedLessons = append(enrollment.CompletedLessons, lessonKey)

	var totalLessons int64
	if err := s.DB.WithContext(ctx).Model(&types.Lesson{}).
		Joins("JOIN course_modules ON course_modules.id = lessons.module_id").
		Where("course_modules.course_id = ?", courseID).
		Count(&totalLessons).Error; err != nil {
		return nil, fmt.Errorf("failed to count lessons: %w", err)
	}

	if totalLessons > 0 {
		enrollment.Progress = float64(len(enrollment.CompletedLessons)) / float64(totalLessons) * 100
	}
	if totalLessons > 0 && int64(len(enrollment.CompletedLessons)) >= totalLessons {
		now := time.Now().UTC()
		enrollment.CompletedAt = &now
		enrollment.Status = "completed"
	}

	if err := s.DB.WithContext(ctx).Save(&enrollment).Error; err != nil {
		return nil, fmt.Errorf("failed to update enrollment: %w", err)
	}
	return &enrollment, nil
}

// ListNotifications returns a user's notifications, newest first.
func (s *Service) ListNotifications(ctx context.Context, userID uuid.UUID) ([]*types.Notification, error) {
	var notifications []*types.Notification
	if err := s.DB.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&notifications).Error; err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	return notifications, nil
}

// MarkNotificationRead stamps a notification as read.
func (s *Service) MarkNotificationRead(ctx context.Context, notificationID, userID uuid.UUID) error {
	now := time.Now().UTC()
	result := s.DB.WithContext(ctx).Model(&types.Notification{}).
		Where("id = ? AND user_id = ?", notificationID, userID).
		Update("read_at", &now)
	if result.Error != nil {
		return fmt.Errorf("failed to mark notification read: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("notification not found")
	}
	return nil
}

// Subscribe starts (or replaces) a user's subscription plan.
func (s *Service) Subscribe(ctx context.Context, userID uuid.UUID, plan string) (*types.Subscription, error) {
	if plan == "" {
		return nil, fmt.Errorf("subscription plan is required")
	}

	// Cancel any active subscription before starting the new plan.
	now := time.Now().UTC()
	if err := s.DB.WithContext(ctx).Model(&types.Subscription{}).
		Where("user_id = ? AND status = ?", userID, "active").
		Updates(map[string]interface{}{"status": "cancelled", "cancelled_at": &now}).Error; err != nil {
		return nil, fmt.Errorf("failed to supersede subscription: %w", err)
	}

	subscription := &types.Subscription{
		UserID:           userID,
		Plan:             plan,
		Status:           "active",
		CurrentPeriodEnd: now.AddDate(0, 1, 0),
	}
	if err := s.DB.WithContext(ctx).Create(subscription).Error; err != nil {
		return nil, fmt.Errorf("failed to create subscription: %w", err)
	}
	return subscription, nil
}

// CancelSubscription cancels the user's active subscription.
func (s *Service) CancelSubscription(ctx context.Context, userID uuid.UUID) error {
	now := time.Now().UTC()
	result := s.DB.WithContext(ctx).Model(&types.Subscription{}).
		Where("user_id = ? AND status = ?", userID, "active").
		Updates(map[string]interface{}{"status": "cancelled", "cancelled_at": &now})
	if result.Error != nil {
		return fmt.Errorf("failed to cancel subscription: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("no active subscription")
	}
	return nil
}

// ProfileInput carries profile fields. Avatar is optional and treated like
// the course thumbnail: a failed upload keeps the previous avatar.
type ProfileInput struct {
	DisplayName   string
	Bio           string
	WalletAddress string
	Avatar        *storage.UploadRequest
}

// UpsertProfile creates or updates a user's profile.
func (s *Service) UpsertProfile(ctx context.Context, userID uuid.UUID, in *ProfileInput) (*types.UserProfile, error) {
	var profile types.UserProfile
	err := s.DB.WithContext(ctx).First(&profile, "user_id = ?", userID).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}

	profile.UserID = userID
	profile.DisplayName = in.DisplayName
	profile.Bio = in.Bio
	if in.WalletAddress != "" {
		profile.WalletAddress = in.WalletAddress
	}

	if in.Avatar != nil {
		result, err := s.Uploads.Resolve(ctx, in.Avatar)
		if err != nil {
			log.Warn().Err(err).Str("user", userID.String()).
				Msg("avatar upload failed, keeping previous avatar")
		} else {
			profile.AvatarCID = result.CID
			profile.AvatarURL = result.URL
		}
	}

	if err := s.DB.WithContext(ctx).Save(&profile).Error; err != nil {
		return nil, fmt.Errorf("failed to save profile: %w", err)
	}
	return &profile, nil
}

func (s *Service) invalidateListing(ctx context.Context) {
	if s.Cache == nil {
		return
	}
	if err := s.Cache.Delete(ctx, publishedCoursesCacheKey); err != nil {
		log.Warn().Err(err).Msg("failed to invalidate course listing cache")
	}
}
