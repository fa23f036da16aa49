package forms

import "strings"

// Type identifies which step of the exchange report a submission holds.
type Type string

const (
	TypeBasicInfo      Type = "BASIC_INFO"
	TypeCourseMatching Type = "COURSE_MATCHING"
	TypeAccommodation  Type = "ACCOMMODATION"
	TypeLivingExpenses Type = "LIVING_EXPENSES"
	TypeExperience     Type = "EXPERIENCE"
)

// Status is the moderation state of a submission.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusSubmitted Status = "SUBMITTED"
	StatusPublished Status = "PUBLISHED"
)

// RequiredTypes is the full report a student is asked to complete, in order.
var RequiredTypes = []Type{
	TypeBasicInfo,
	TypeCourseMatching,
	TypeAccommodation,
	TypeLivingExpenses,
	TypeExperience,
}

// ParseType accepts the canonical names case-insensitively; STORY is an alias of EXPERIENCE.
func ParseType(raw string) (Type, bool) {
	switch Type(strings.ToUpper(strings.TrimSpace(raw))) {
	case TypeBasicInfo:
		return TypeBasicInfo, true
	case TypeCourseMatching:
		return TypeCourseMatching, true
	case TypeAccommodation:
		return TypeAccommodation, true
	case TypeLivingExpenses:
		return TypeLivingExpenses, true
	case TypeExperience, "STORY":
		return TypeExperience, true
	}
	return "", false
}

// ParseStatus accepts the canonical names case-insensitively.
func ParseStatus(raw string) (Status, bool) {
	switch s := Status(strings.ToUpper(strings.TrimSpace(raw))); s {
	case StatusDraft, StatusSubmitted, StatusPublished:
		return s, true
	}
	return "", false
}

// Payload keys read by the aggregation and preview generation.
const (
	FieldHostCity        = "hostCity"
	FieldHostCountry     = "hostCountry"
	FieldHostUniversity  = "hostUniversity"
	FieldHomeUniversity  = "homeUniversity"
	FieldDepartment      = "department"
	FieldLevelOfStudy    = "levelOfStudy"
	FieldExchangePeriod  = "exchangePeriod"
	FieldMonthlyRent     = "monthlyRent"
	FieldBookingPlatform = "bookingPlatform"
	FieldAccommodationTy = "accommodationType"
	FieldNeighborhood    = "neighborhood"
	FieldDistance        = "distanceToUniversity"
	FieldAccomRating     = "accommodationRating"
	FieldDescription     = "description"
	FieldHostCourseCount = "hostCourseCount"
	FieldHomeCourseCount = "homeCourseCount"
	FieldECTSCredits     = "ectsCredits"
	FieldDifficulty      = "courseDifficulty"
	FieldCourses         = "courses"
	FieldExpAccomm       = "accommodation"
	FieldExpFood         = "food"
	FieldExpTransport    = "transport"
	FieldExpEntertain    = "entertainment"
	FieldExpUtilities    = "utilities"
	FieldExpOther        = "other"
	FieldOverallRating   = "overallRating"
	FieldStory           = "story"
	FieldTips            = "tips"
)
