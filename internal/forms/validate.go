package forms

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var numericFields = map[Type][]string{
	TypeBasicInfo:      {FieldMonthlyRent},
	TypeCourseMatching: {FieldHostCourseCount, FieldHomeCourseCount, FieldECTSCredits, FieldDifficulty},
	TypeAccommodation:  {FieldMonthlyRent, FieldDistance, FieldAccomRating},
	TypeLivingExpenses: {FieldExpAccomm, FieldExpFood, FieldExpTransport, FieldExpEntertain, FieldExpUtilities, FieldExpOther},
	TypeExperience:     {FieldOverallRating},
}

// NumericFields lists the payload fields of formType that must hold numbers.
func NumericFields(formType Type) []string {
	return append([]string(nil), numericFields[formType]...)
}

// ValidateNumericFields reports whether every listed field present in data is a JSON number.
// Absent and null fields pass; this is a type check, not a completeness check.
func ValidateNumericFields(data map[string]any, formType Type) bool {
	return len(InvalidNumericFields(data, formType)) == 0
}

// InvalidNumericFields returns the listed fields of formType holding non-numeric values.
func InvalidNumericFields(data map[string]any, formType Type) []string {
	var invalid []string
	for _, field := range numericFields[formType] {
		value, ok := data[field]
		if !ok || value == nil {
			continue
		}
		if !isJSONNumber(value) {
			invalid = append(invalid, field)
		}
	}
	return invalid
}

func isJSONNumber(value any) bool {
	switch v := value.(type) {
	case float64, float32, int, int64, uint, uint64:
		return true
	case json.Number:
		_, err := v.Float64()
		return err == nil
	}
	return false
}

// ValidateRequiredLocation checks that a BASIC_INFO payload names its host city and country.
func ValidateRequiredLocation(data map[string]any) error {
	for _, field := range []string{FieldHostCity, FieldHostCountry} {
		s, _ := data[field].(string)
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", field)
		}
	}
	return nil
}

var (
	richTextPolicy = bluemonday.UGCPolicy()
	plainPolicy    = bluemonday.StrictPolicy()
)

// richTextFields may contain user formatting; everything else is left untouched.
var richTextFields = []string{FieldStory, FieldTips, FieldDescription}

// SanitizeRichText strips unsafe markup from free-text payload fields in place.
func SanitizeRichText(data map[string]any) map[string]any {
	for _, field := range richTextFields {
		if s, ok := data[field].(string); ok {
			data[field] = richTextPolicy.Sanitize(s)
		}
	}
	return data
}

// SanitizePlain removes all markup; used for admin notes.
func SanitizePlain(s string) string {
	return strings.TrimSpace(plainPolicy.Sanitize(s))
}
