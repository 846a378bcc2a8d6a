package models

import (
	"time"

	"github.com/google/uuid"
)

// Enrollment grants a user access to a course. Exactly one is created per
// completed payment; refund approval removes it.
type Enrollment struct {
	ID       uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID   uuid.UUID `gorm:"column:user_id;type:uuid;not null;uniqueIndex:idx_enrollment_user_course"`
	CourseID uuid.UUID `gorm:"column:course_id;type:uuid;not null;uniqueIndex:idx_enrollment_user_course"`

	// ProgressPercent is maintained by the lesson-tracking surface and read
	// here for refund eligibility.
	ProgressPercent int `gorm:"column:progress_percent;not null;default:0"`

	PaymentID *uuid.UUID `gorm:"column:payment_id;type:uuid"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
