package forms

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestCreateFormLinkingData_RoundTrip(t *testing.T) {
	link := CreateFormLinkingData(17, TypeAccommodation, nil)
	data := link.Embed(map[string]any{"monthlyRent": 420.0})

	// Simulate storage: the payload goes through JSON before it is read again.
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	decoded, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	id, ok := ExtractBasicInfoID(decoded)
	if !ok || id != 17 {
		t.Fatalf("expected basic info id 17, got %d ok=%v", id, ok)
	}
	if !IsLinkedSubmission(decoded) {
		t.Fatalf("expected linked marker")
	}
	if chain := GetFormChain(decoded); !reflect.DeepEqual(chain, []Type{TypeAccommodation}) {
		t.Fatalf("unexpected chain %v", chain)
	}
}

func TestCreateFormLinkingData_DoesNotAliasPreviousChain(t *testing.T) {
	previous := make([]Type, 1, 4)
	previous[0] = TypeCourseMatching

	first := CreateFormLinkingData(1, TypeAccommodation, previous)
	second := CreateFormLinkingData(1, TypeLivingExpenses, previous)

	if !reflect.DeepEqual(first.SubmissionChain, []Type{TypeCourseMatching, TypeAccommodation}) {
		t.Fatalf("first chain overwritten: %v", first.SubmissionChain)
	}
	if !reflect.DeepEqual(second.SubmissionChain, []Type{TypeCourseMatching, TypeLivingExpenses}) {
		t.Fatalf("unexpected second chain: %v", second.SubmissionChain)
	}
	if len(previous) != 1 {
		t.Fatalf("previous chain mutated: %v", previous)
	}
}

func TestExtractBasicInfoID_Invalid(t *testing.T) {
	cases := []map[string]any{
		{},
		{KeyBasicInfoID: nil},
		{KeyBasicInfoID: "abc"},
		{KeyBasicInfoID: -3.0},
		{KeyBasicInfoID: 2.5},
	}
	for _, data := range cases {
		if id, ok := ExtractBasicInfoID(data); ok {
			t.Errorf("ExtractBasicInfoID(%v) = %d, expected no id", data, id)
		}
	}
}

func TestNormalize_HoistsNestedKeys(t *testing.T) {
	data := map[string]any{
		"hostCity": "Lisbon",
		"data": map[string]any{
			KeyBasicInfoID:      9.0,
			KeyLinkedSubmission: true,
		},
	}

	Normalize(data)

	if _, nested := data["data"]; nested {
		t.Fatalf("expected emptied nested object to be removed: %v", data)
	}
	if id, ok := ExtractBasicInfoID(data); !ok || id != 9 {
		t.Fatalf("expected hoisted id 9, got %d", id)
	}
	if !IsLinkedSubmission(data) {
		t.Fatalf("expected hoisted linked marker")
	}
}

func TestNormalize_TopLevelWins(t *testing.T) {
	data := map[string]any{
		KeyBasicInfoID: 3.0,
		"data": map[string]any{
			KeyBasicInfoID: 4.0,
			"note":         "kept",
		},
	}

	Normalize(data)

	if id, _ := ExtractBasicInfoID(data); id != 3 {
		t.Fatalf("expected top-level id to win, got %d", id)
	}
	nested := data["data"].(map[string]any)
	if _, ok := nested[KeyBasicInfoID]; ok {
		t.Fatalf("nested reserved key must be removed")
	}
	if nested["note"] != "kept" {
		t.Fatalf("non-reserved nested keys must be kept")
	}
}

func TestCalculateCompletionPercentage(t *testing.T) {
	required := []Type{TypeAccommodation, TypeExperience, TypeLivingExpenses}

	if got := CalculateCompletionPercentage(nil, required); got != 0 {
		t.Fatalf("empty submissions: got %d", got)
	}
	if got := CalculateCompletionPercentage(required, required); got != 100 {
		t.Fatalf("all present: got %d", got)
	}
	if got := CalculateCompletionPercentage([]Type{TypeAccommodation, TypeAccommodation}, required); got != 33 {
		t.Fatalf("duplicates must count once: got %d", got)
	}
	if got := CalculateCompletionPercentage([]Type{TypeAccommodation}, nil); got != 0 {
		t.Fatalf("no required types: got %d", got)
	}

	previous := -1
	observed := []Type{}
	for _, t2 := range append([]Type{TypeBasicInfo}, required...) {
		observed = append(observed, t2)
		got := CalculateCompletionPercentage(observed, required)
		if got < previous {
			t.Fatalf("completion must be monotonic: %d after %d", got, previous)
		}
		previous = got
	}
}

func TestGetMissingFormTypes(t *testing.T) {
	missing := GetMissingFormTypes([]Type{TypeAccommodation}, []Type{TypeAccommodation, TypeExperience})
	if !reflect.DeepEqual(missing, []Type{TypeExperience}) {
		t.Fatalf("unexpected missing types %v", missing)
	}

	if missing := GetMissingFormTypes(nil, RequiredTypes); len(missing) != len(RequiredTypes) {
		t.Fatalf("expected every type missing, got %v", missing)
	}
}

func TestValidateNumericFields(t *testing.T) {
	cases := []struct {
		name string
		data map[string]any
		typ  Type
		want bool
	}{
		{"numbers", map[string]any{"food": 200.0, "transport": 40}, TypeLivingExpenses, true},
		{"absent and null", map[string]any{"food": nil}, TypeLivingExpenses, true},
		{"numeric string rejected", map[string]any{"food": "200"}, TypeLivingExpenses, false},
		{"bool rejected", map[string]any{"monthlyRent": true}, TypeAccommodation, false},
		{"unlisted field ignored", map[string]any{"hostCity": "Rome"}, TypeBasicInfo, true},
		{"json number", map[string]any{"overallRating": json.Number("4.5")}, TypeExperience, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ValidateNumericFields(tc.data, tc.typ); got != tc.want {
				t.Fatalf("got %v want %v", got, tc.want)
			}
		})
	}
}

func TestParseType(t *testing.T) {
	if typ, ok := ParseType("story"); !ok || typ != TypeExperience {
		t.Fatalf("STORY must alias EXPERIENCE, got %q", typ)
	}
	if _, ok := ParseType("RESUME"); ok {
		t.Fatalf("unknown type accepted")
	}
}

func TestSanitizeRichText(t *testing.T) {
	data := SanitizeRichText(map[string]any{
		"story":    "<p>Great city</p><script>alert(1)</script>",
		"hostCity": "Bosnia & Herzegovina",
	})
	if data["story"] != "<p>Great city</p>" {
		t.Fatalf("unexpected story %q", data["story"])
	}
	if data["hostCity"] != "Bosnia & Herzegovina" {
		t.Fatalf("plain fields must be untouched, got %q", data["hostCity"])
	}
}
