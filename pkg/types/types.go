package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// JSONMap is a custom type that can handle JSON serialization for both PostgreSQL and SQLite
type JSONMap map[string]interface{}

// Value implements the driver.Valuer interface for GORM
func (j JSONMap) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements the sql.Scanner interface for GORM
func (j *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into JSONMap", value)
	}

	return json.Unmarshal(bytes, j)
}

// Course status values
const (
	CourseStatusDraft     = "draft"
	CourseStatusPublished = "published"
	CourseStatusArchived  = "archived"
)

// Lesson type values
const (
	LessonTypeVideo   = "video"
	LessonTypeArticle = "article"
	LessonTypeQuiz    = "quiz"
)

// Course represents a published or draft course
type Course struct {
	ID           uuid.UUID      `json:"id" gorm:"primaryKey"`
	Title        string         `json:"title" gorm:"not null"`
	Slug         string         `json:"slug" gorm:"uniqueIndex;not null"`
	Description  string         `json:"description"`
	Category     string         `json:"category" gorm:"index"`
	Level        string         `json:"level"` // beginner, intermediate, advanced
	Price        float64        `json:"price"`
	Currency     string         `json:"currency" gorm:"default:USD"`
	Status       string         `json:"status" gorm:"default:draft;index"`
	ThumbnailCID string         `json:"thumbnail_cid"`
	ThumbnailURL string         `json:"thumbnail_url"`
	InstructorID uuid.UUID      `json:"instructor_id" gorm:"not null;index"`
	Metadata     JSONMap        `json:"metadata" gorm:"serializer:json"`
	Modules      []CourseModule `json:"modules,omitempty" gorm:"foreignKey:CourseID"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// BeforeCreate generates a UUID for the course ID
func (c *Course) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// CourseModule groups lessons within a course
type CourseModule struct {
	ID        uuid.UUID `json:"id" gorm:"primaryKey"`
	CourseID  uuid.UUID `json:"course_id" gorm:"not null;index"`
	Title     string    `json:"title" gorm:"not null"`
	Position  int       `json:"position"`
	Lessons   []Lesson  `json:"lessons,omitempty" gorm:"foreignKey:ModuleID"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate generates a UUID for the module ID
func (m *CourseModule) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

// Lesson is a single unit of course content. Video lessons carry a
// content-addressed reference to the uploaded video.
type Lesson struct {
	ID        uuid.UUID `json:"id" gorm:"primaryKey"`
	ModuleID  uuid.UUID `json:"module_id" gorm:"not null;index"`
	Title     string    `json:"title" gorm:"not null"`
	Type      string    `json:"type" gorm:"default:article"`
	Content   string    `json:"content"`
	VideoCID  string    `json:"video_cid"`
	VideoURL  string    `json:"video_url"`
	VideoSize int64     `json:"video_size"`
	Duration  int       `json:"duration"` // seconds
	Position  int       `json:"position"`
	IsPreview bool      `json:"is_preview" gorm:"default:false"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate generates a UUID for the lesson ID
func (l *Lesson) BeforeCreate(tx *gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}

// Enrollment tracks a student's membership and progress in a course
type Enrollment struct {
	ID               uuid.UUID `json:"id" gorm:"primaryKey"`
	CourseID         uuid.UUID `json:"course_id" gorm:"not null;index:idx_enrollment_course_user,unique"`
	UserID           uuid.UUID `json:"user_id" gorm:"not null;index:idx_enrollment_course_user,unique"`
	Status           string    `json:"status" gorm:"default:active"`
	Progress         float64   `json:"progress"` // 0..100
	CompletedLessons []string  `json:"completed_lessons" gorm:"serializer:json"`
	EnrolledAt       time.Time `json:"enrolled_at"`
	CompletedAt      *time.Time `json:"completed_at"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// BeforeCreate generates a UUID for the enrollment ID
func (e *Enrollment) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}

// Subscription represents a recurring billing plan for a user
type Subscription struct {
	ID               uuid.UUID  `json:"id" gorm:"primaryKey"`
	UserID           uuid.UUID  `json:"user_id" gorm:"not null;index"`
	Plan             string     `json:"plan" gorm:"not null"` // free, pro, team
	Status           string     `json:"status" gorm:"default:active"`
	CurrentPeriodEnd time.Time  `json:"current_period_end"`
	CancelledAt      *time.Time `json:"cancelled_at"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// BeforeCreate generates a UUID for the subscription ID
func (s *Subscription) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// UserProfile holds public profile data plus the wallet reference
type UserProfile struct {
	ID            uuid.UUID `json:"id" gorm:"primaryKey"`
	UserID        uuid.UUID `json:"user_id" gorm:"uniqueIndex;not null"`
	DisplayName   string    `json:"display_name"`
	Bio           string    `json:"bio"`
	AvatarCID     string    `json:"avatar_cid"`
	AvatarURL     string    `json:"avatar_url"`
	WalletAddress string    `json:"wallet_address"`
	Balance       float64   `json:"balance"`
	Metadata      JSONMap   `json:"metadata" gorm:"serializer:json"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// BeforeCreate generates a UUID for the profile ID
func (p *UserProfile) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// Notification is an in-app notification document
type Notification struct {
	ID        uuid.UUID  `json:"id" gorm:"primaryKey"`
	UserID    uuid.UUID  `json:"user_id" gorm:"not null;index"`
	Kind      string     `json:"kind"` // enrollment, course_published, billing
	Title     string     `json:"title" gorm:"not null"`
	Body      string     `json:"body"`
	ReadAt    *time.Time `json:"read_at"`
	CreatedAt time.Time  `json:"created_at"`
}

// BeforeCreate generates a UUID for the notification ID
func (n *Notification) BeforeCreate(tx *gorm.DB) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	return nil
}

// CourseFilter is used for course queries
type CourseFilter struct {
	Category     string `json:"category"`
	Level        string `json:"level"`
	Status       string `json:"status"`
	InstructorID string `json:"instructor_id"`
	Limit        int    `json:"limit"`
	Offset       int    `json:"offset"`
}

// APIResponse is a generic API response wrapper
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}
