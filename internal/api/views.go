package api

import (
	"encoding/json"
	"time"

	"erasmusjourney/internal/database"
)

type userResponse struct {
	ID                 uint      `json:"id"`
	Email              string    `json:"email"`
	FirstName          string    `json:"firstName"`
	LastName           string    `json:"lastName"`
	Role               string    `json:"role"`
	HomeCountry        string    `json:"homeCountry,omitempty"`
	HomeUniversity     string    `json:"homeUniversity,omitempty"`
	MustChangePassword bool      `json:"mustChangePassword"`
	CreatedAt          time.Time `json:"createdAt"`
}

func newUserResponse(u database.User) userResponse {
	return userResponse{
		ID:                 u.ID,
		Email:              u.Email,
		FirstName:          u.FirstName,
		LastName:           u.LastName,
		Role:               u.Role,
		HomeCountry:        u.HomeCountry,
		HomeUniversity:     u.HomeUniversity,
		MustChangePassword: u.MustChangePassword,
		CreatedAt:          u.CreatedAt,
	}
}

type submissionResponse struct {
	ID          uint            `json:"id"`
	UserID      uint            `json:"userId"`
	Type        string          `json:"type"`
	Title       string          `json:"title"`
	Data        json.RawMessage `json:"data"`
	Status      string          `json:"status"`
	BasicInfoID *uint           `json:"basicInfoId,omitempty"`
	Featured    bool            `json:"featured"`
	Visible     bool            `json:"visible"`
	AdminNotes  string          `json:"adminNotes,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// newSubmissionResponse hides admin notes unless withNotes is set.
func newSubmissionResponse(s database.FormSubmission, withNotes bool) submissionResponse {
	data := json.RawMessage(s.Data)
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	resp := submissionResponse{
		ID:          s.ID,
		UserID:      s.UserID,
		Type:        s.Type,
		Title:       s.Title,
		Data:        data,
		Status:      s.Status,
		BasicInfoID: s.BasicInfoID,
		Featured:    s.Featured,
		Visible:     s.Visible,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
	}
	if withNotes {
		resp.AdminNotes = s.AdminNotes
	}
	return resp
}

type accommodationResponse struct {
	ID                   uint      `json:"id"`
	DestinationID        uint      `json:"destinationId"`
	SubmissionID         uint      `json:"submissionId"`
	AccommodationType    string    `json:"accommodationType"`
	BookingPlatform      string    `json:"bookingPlatform"`
	Neighborhood         string    `json:"neighborhood"`
	MonthlyRent          float64   `json:"monthlyRent"`
	DistanceToUniversity float64   `json:"distanceToUniversity"`
	Rating               float64   `json:"rating"`
	Description          string    `json:"description"`
	Featured             bool      `json:"featured"`
	Visible              bool      `json:"visible"`
	AdminNotes           string    `json:"adminNotes,omitempty"`
	UpdatedAt            time.Time `json:"updatedAt"`
}

func newAccommodationResponse(a database.Accommodation, withNotes bool) accommodationResponse {
	resp := accommodationResponse{
		ID:                   a.ID,
		DestinationID:        a.DestinationID,
		SubmissionID:         a.SubmissionID,
		AccommodationType:    a.AccommodationType,
		BookingPlatform:      a.BookingPlatform,
		Neighborhood:         a.Neighborhood,
		MonthlyRent:          a.MonthlyRent,
		DistanceToUniversity: a.DistanceToUniversity,
		Rating:               a.Rating,
		Description:          a.Description,
		Featured:             a.Featured,
		Visible:              a.Visible,
		UpdatedAt:            a.UpdatedAt,
	}
	if withNotes {
		resp.AdminNotes = a.AdminNotes
	}
	return resp
}

type courseExchangeResponse struct {
	ID              uint            `json:"id"`
	DestinationID   uint            `json:"destinationId"`
	SubmissionID    uint            `json:"submissionId"`
	HostUniversity  string          `json:"hostUniversity"`
	Department      string          `json:"department"`
	StudyLevel      string          `json:"studyLevel"`
	HostCourseCount int             `json:"hostCourseCount"`
	HomeCourseCount int             `json:"homeCourseCount"`
	ECTSCredits     float64         `json:"ectsCredits"`
	Difficulty      float64         `json:"courseDifficulty"`
	Courses         json.RawMessage `json:"courses,omitempty"`
	Featured        bool            `json:"featured"`
	Visible         bool            `json:"visible"`
	AdminNotes      string          `json:"adminNotes,omitempty"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

func newCourseExchangeResponse(e database.CourseExchange, withNotes bool) courseExchangeResponse {
	resp := courseExchangeResponse{
		ID:              e.ID,
		DestinationID:   e.DestinationID,
		SubmissionID:    e.SubmissionID,
		HostUniversity:  e.HostUniversity,
		Department:      e.Department,
		StudyLevel:      e.StudyLevel,
		HostCourseCount: e.HostCourseCount,
		HomeCourseCount: e.HomeCourseCount,
		ECTSCredits:     e.ECTSCredits,
		Difficulty:      e.Difficulty,
		Featured:        e.Featured,
		Visible:         e.Visible,
		UpdatedAt:       e.UpdatedAt,
	}
	if len(e.Courses) > 0 {
		resp.Courses = json.RawMessage(e.Courses)
	}
	if withNotes {
		resp.AdminNotes = e.AdminNotes
	}
	return resp
}

type destinationResponse struct {
	ID             uint            `json:"id"`
	Name           string          `json:"name"`
	City           string          `json:"city"`
	Country        string          `json:"country"`
	Description    string          `json:"description"`
	ImageURL       string          `json:"imageUrl"`
	Featured       bool            `json:"featured"`
	Status         string          `json:"status"`
	Climate        string          `json:"climate,omitempty"`
	StudentCount   int             `json:"studentCount"`
	AvgRent        float64         `json:"avgRent"`
	AvgMonthlyCost float64         `json:"avgMonthlyCost"`
	Highlights     json.RawMessage `json:"highlights,omitempty"`
	RefreshedAt    *time.Time      `json:"refreshedAt,omitempty"`
}
