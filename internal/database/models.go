package database

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// User roles.
const (
	RoleUser  = "USER"
	RoleAdmin = "ADMIN"
)

// Destination curation states.
const (
	DestinationPublished = "PUBLISHED"
	DestinationDraft     = "DRAFT"
)

// User is a registered student or administrator.
type User struct {
	gorm.Model
	Email              string           `gorm:"uniqueIndex;size:255"`
	FirstName          string           `gorm:"size:128"`
	LastName           string           `gorm:"size:128"`
	PasswordHash       string           `gorm:"size:255"`
	Role               string           `gorm:"size:16;default:USER"`
	HomeCountry        string           `gorm:"size:128"`
	HomeUniversity     string           `gorm:"size:255"`
	MustChangePassword bool             `gorm:"default:false"`
	Submissions        []FormSubmission `gorm:"constraint:OnDelete:CASCADE"`
}

// IsAdmin reports whether the user may call moderation endpoints.
func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// FormSubmission stores one step of a student's exchange report.
// Data holds the step payload; BasicInfoID links follow-up steps to the
// BASIC_INFO submission they belong to.
type FormSubmission struct {
	gorm.Model
	UserID      uint            `gorm:"index"`
	User        User            `gorm:"constraint:OnDelete:CASCADE"`
	Type        string          `gorm:"size:32;index"`
	Title       string          `gorm:"size:255"`
	Data        datatypes.JSON  `gorm:"type:jsonb"`
	Status      string          `gorm:"size:16;index"`
	BasicInfoID *uint           `gorm:"index"`
	BasicInfo   *FormSubmission `gorm:"foreignKey:BasicInfoID;constraint:OnDelete:SET NULL"`
	Featured    bool            `gorm:"default:false"`
	Visible     bool            `gorm:"default:true"`
	AdminNotes  string          `gorm:"type:text"`
}

// Destination is the curated record for a (city, country) pair.
// StudentCount, AvgRent and AvgMonthlyCost are refreshed from submissions.
type Destination struct {
	gorm.Model
	Name            string           `gorm:"size:128;uniqueIndex:idx_destination_city_country"`
	Country         string           `gorm:"size:128;uniqueIndex:idx_destination_city_country"`
	Description     string           `gorm:"type:text"`
	ImageURL        string           `gorm:"size:512"`
	ImageKey        string           `gorm:"size:512"`
	Featured        bool             `gorm:"default:false"`
	Status          string           `gorm:"size:16;default:DRAFT"`
	Climate         string           `gorm:"size:128"`
	StudentCount    int              `gorm:"default:0"`
	AvgRent         float64          `gorm:"default:0"`
	AvgMonthlyCost  float64          `gorm:"default:0"`
	Highlights      datatypes.JSON   `gorm:"type:jsonb"`
	Accommodations  []Accommodation  `gorm:"constraint:OnDelete:CASCADE"`
	CourseExchanges []CourseExchange `gorm:"constraint:OnDelete:CASCADE"`
	RefreshedAt     *time.Time
}

// University is reference data for a partner institution.
type University struct {
	gorm.Model
	Name      string `gorm:"size:255;index"`
	ShortName string `gorm:"size:64"`
	Type      string `gorm:"size:32"`
	Country   string `gorm:"size:128;index"`
	City      string `gorm:"size:128"`
	Website   string `gorm:"size:255"`
}

// Agreement is a bilateral exchange agreement between a home department and a partner university.
type Agreement struct {
	gorm.Model
	HomeDepartment      string     `gorm:"size:255"`
	PartnerUniversityID uint       `gorm:"index"`
	PartnerUniversity   University `gorm:"constraint:OnDelete:CASCADE"`
	StudyLevel          string     `gorm:"size:64"`
	Spots               int        `gorm:"default:0"`
	Active              bool       `gorm:"default:true"`
}

// Accommodation is a preview generated from a published ACCOMMODATION submission.
type Accommodation struct {
	gorm.Model
	DestinationID        uint           `gorm:"index"`
	SubmissionID         uint           `gorm:"uniqueIndex"`
	Submission           FormSubmission `gorm:"constraint:OnDelete:CASCADE"`
	AccommodationType    string         `gorm:"size:64"`
	BookingPlatform      string         `gorm:"size:128"`
	Neighborhood         string         `gorm:"size:128"`
	MonthlyRent          float64
	DistanceToUniversity float64
	Rating               float64
	Description          string `gorm:"type:text"`
	Featured             bool   `gorm:"default:false"`
	Visible              bool   `gorm:"default:true"`
	AdminNotes           string `gorm:"type:text"`
}

// CourseExchange is a preview generated from a published COURSE_MATCHING submission.
type CourseExchange struct {
	gorm.Model
	DestinationID   uint           `gorm:"index"`
	SubmissionID    uint           `gorm:"uniqueIndex"`
	Submission      FormSubmission `gorm:"constraint:OnDelete:CASCADE"`
	HostUniversity  string         `gorm:"size:255"`
	Department      string         `gorm:"size:255"`
	StudyLevel      string         `gorm:"size:64"`
	HostCourseCount int
	HomeCourseCount int
	ECTSCredits     float64
	Difficulty      float64
	Courses         datatypes.JSON `gorm:"type:jsonb"`
	Featured        bool           `gorm:"default:false"`
	Visible         bool           `gorm:"default:true"`
	AdminNotes      string         `gorm:"type:text"`
}

// AllModels lists every model for AutoMigrate.
func AllModels() []any {
	return []any{
		&User{},
		&University{},
		&Agreement{},
		&FormSubmission{},
		&Destination{},
		&Accommodation{},
		&CourseExchange{},
	}
}
