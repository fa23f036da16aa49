package forms

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Reserved payload keys linking a follow-up submission to its BASIC_INFO parent.
// They always live at the top level of the payload; Normalize enforces that on write.
const (
	KeyBasicInfoID      = "_basicInfoId"
	KeyLinkedSubmission = "_linkedSubmission"
	KeyFormChain        = "_formChain"
)

var reservedKeys = []string{KeyBasicInfoID, KeyLinkedSubmission, KeyFormChain}

// LinkingData is what a follow-up submission records about its parent.
type LinkingData struct {
	BasicInfoID      uint   `json:"basicInfoId"`
	LinkedSubmission bool   `json:"linkedSubmission"`
	SubmissionChain  []Type `json:"submissionChain"`
}

// CreateFormLinkingData appends formType to previousChain without aliasing it.
func CreateFormLinkingData(basicInfoID uint, formType Type, previousChain []Type) LinkingData {
	chain := make([]Type, 0, len(previousChain)+1)
	chain = append(chain, previousChain...)
	chain = append(chain, formType)
	return LinkingData{
		BasicInfoID:      basicInfoID,
		LinkedSubmission: true,
		SubmissionChain:  chain,
	}
}

// Embed writes the reserved keys into data and returns it. A nil map is allocated.
func (l LinkingData) Embed(data map[string]any) map[string]any {
	if data == nil {
		data = map[string]any{}
	}
	chain := make([]any, 0, len(l.SubmissionChain))
	for _, t := range l.SubmissionChain {
		chain = append(chain, string(t))
	}
	data[KeyBasicInfoID] = l.BasicInfoID
	data[KeyLinkedSubmission] = l.LinkedSubmission
	data[KeyFormChain] = chain
	return data
}

// Normalize hoists reserved keys that clients nested under "data" to the top
// level, so readers only ever look in one place. Top-level values win.
func Normalize(data map[string]any) map[string]any {
	if data == nil {
		return map[string]any{}
	}
	nested, ok := data["data"].(map[string]any)
	if !ok {
		return data
	}
	for _, key := range reservedKeys {
		value, present := nested[key]
		if !present {
			continue
		}
		if _, exists := data[key]; !exists {
			data[key] = value
		}
		delete(nested, key)
	}
	if len(nested) == 0 {
		delete(data, "data")
	}
	return data
}

// StripLinking removes reserved keys; the server recomputes them from the stored relation.
func StripLinking(data map[string]any) map[string]any {
	for _, key := range reservedKeys {
		delete(data, key)
	}
	return data
}

// ExtractBasicInfoID returns the parent id recorded in data.
func ExtractBasicInfoID(data map[string]any) (uint, bool) {
	value, ok := data[KeyBasicInfoID]
	if !ok || value == nil {
		return 0, false
	}
	f, ok := ParseNumber(value)
	if !ok || f <= 0 || f != math.Trunc(f) {
		return 0, false
	}
	return uint(f), true
}

// IsLinkedSubmission reports whether data carries the linked marker.
func IsLinkedSubmission(data map[string]any) bool {
	linked, ok := data[KeyLinkedSubmission].(bool)
	return ok && linked
}

// GetFormChain returns the recorded chain, or nil when absent or malformed.
func GetFormChain(data map[string]any) []Type {
	switch raw := data[KeyFormChain].(type) {
	case []any:
		chain := make([]Type, 0, len(raw))
		for _, item := range raw {
			s, ok := item.(string)
			if !ok {
				return nil
			}
			chain = append(chain, Type(s))
		}
		return chain
	case []string:
		chain := make([]Type, 0, len(raw))
		for _, s := range raw {
			chain = append(chain, Type(s))
		}
		return chain
	case []Type:
		return append([]Type(nil), raw...)
	}
	return nil
}

// CalculateCompletionPercentage is the share of requiredTypes observed at least once, rounded.
func CalculateCompletionPercentage(observed []Type, requiredTypes []Type) int {
	if len(requiredTypes) == 0 {
		return 0
	}
	seen := typeSet(observed)
	present := 0
	for _, t := range requiredTypes {
		if _, ok := seen[t]; ok {
			present++
		}
	}
	return int(math.Round(100 * float64(present) / float64(len(requiredTypes))))
}

// GetMissingFormTypes returns requiredTypes minus observed, keeping the required order.
func GetMissingFormTypes(observed []Type, requiredTypes []Type) []Type {
	seen := typeSet(observed)
	missing := make([]Type, 0, len(requiredTypes))
	for _, t := range requiredTypes {
		if _, ok := seen[t]; !ok {
			missing = append(missing, t)
		}
	}
	return missing
}

func typeSet(types []Type) map[Type]struct{} {
	set := make(map[Type]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	return set
}

// ParseNumber leniently converts a decoded JSON value to float64.
// Numeric strings are accepted; anything else reports false.
func ParseNumber(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, !math.IsNaN(v) && !math.IsInf(v, 0)
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	}
	return 0, false
}
