package aggregate

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"gorm.io/gorm"

	"erasmusjourney/internal/database"
	"erasmusjourney/internal/forms"
)

// Currency of every amount reported by the service.
const Currency = "EUR"

// Filter selects which submissions feed an aggregate.
type Filter struct {
	Statuses []forms.Status
}

// DefaultFilter counts everything a student has sent in; drafts stay private.
func DefaultFilter() Filter {
	return Filter{Statuses: []forms.Status{forms.StatusSubmitted, forms.StatusPublished}}
}

// Includes reports whether a submission in status feeds aggregates under f.
// An empty filter includes everything.
func (f Filter) Includes(status string) bool {
	if len(f.Statuses) == 0 {
		return true
	}
	for _, st := range f.Statuses {
		if string(st) == status {
			return true
		}
	}
	return false
}

// PublishedOnly restricts an aggregate to moderated submissions.
func PublishedOnly() Filter {
	return Filter{Statuses: []forms.Status{forms.StatusPublished}}
}

// Service computes city and university statistics from form submissions.
// Each method issues several independent reads; any failing read fails the whole call.
type Service struct {
	db *gorm.DB
}

// NewService returns a Service bound to db.
func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

type record struct {
	submission database.FormSubmission
	data       map[string]any
}

// student is one BASIC_INFO submission plus the follow-up forms joined to it.
type student struct {
	basic          record
	city           string
	country        string
	expenses       *record
	courses        []record
	accommodations []record
}

func (s *Service) load(ctx context.Context, formType forms.Type, filter Filter) ([]record, error) {
	statuses := make([]string, 0, len(filter.Statuses))
	for _, st := range filter.Statuses {
		statuses = append(statuses, string(st))
	}

	query := s.db.WithContext(ctx).Where("type = ?", string(formType))
	if len(statuses) > 0 {
		query = query.Where("status IN ?", statuses)
	}

	var rows []database.FormSubmission
	if err := query.Order("id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load %s submissions: %w", formType, err)
	}

	records := make([]record, 0, len(rows))
	for _, row := range rows {
		data, err := forms.Decode(row.Data)
		if err != nil {
			// A corrupt payload cannot contribute; it must not take the report down.
			continue
		}
		records = append(records, record{submission: row, data: data})
	}
	return records, nil
}

// loadStudents reads BASIC_INFO rows with a resolvable location and joins the
// follow-up forms onto them.
func (s *Service) loadStudents(ctx context.Context, filter Filter) ([]*student, error) {
	basics, err := s.load(ctx, forms.TypeBasicInfo, filter)
	if err != nil {
		return nil, err
	}

	students := make([]*student, 0, len(basics))
	byID := make(map[uint]*student, len(basics))
	latestByUser := make(map[uint]*student)
	for _, b := range basics {
		city := forms.String(b.data, forms.FieldHostCity)
		country := forms.String(b.data, forms.FieldHostCountry)
		if city == "" || country == "" {
			continue
		}
		st := &student{basic: b, city: city, country: country}
		students = append(students, st)
		byID[b.submission.ID] = st
		if current, ok := latestByUser[b.submission.UserID]; !ok || isNewer(b.submission, current.basic.submission) {
			latestByUser[b.submission.UserID] = st
		}
	}

	// An explicit parent is authoritative: when it is filtered out (draft, no
	// location) the follow-up is skipped rather than moved to another city.
	resolve := func(r record) *student {
		if r.submission.BasicInfoID != nil {
			return byID[*r.submission.BasicInfoID]
		}
		return latestByUser[r.submission.UserID]
	}

	expenses, err := s.load(ctx, forms.TypeLivingExpenses, filter)
	if err != nil {
		return nil, err
	}
	// One expense report per student: the most recent one wins.
	for i := range expenses {
		st := resolve(expenses[i])
		if st == nil {
			continue
		}
		if st.expenses == nil || isNewer(expenses[i].submission, st.expenses.submission) {
			st.expenses = &expenses[i]
		}
	}

	courses, err := s.load(ctx, forms.TypeCourseMatching, filter)
	if err != nil {
		return nil, err
	}
	for _, c := range courses {
		if st := resolve(c); st != nil {
			st.courses = append(st.courses, c)
		}
	}

	accommodations, err := s.load(ctx, forms.TypeAccommodation, filter)
	if err != nil {
		return nil, err
	}
	for _, a := range accommodations {
		if st := resolve(a); st != nil {
			st.accommodations = append(st.accommodations, a)
		}
	}

	return students, nil
}

func isNewer(a, b database.FormSubmission) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

// costAccumulators gathers the per-category spend of a group of students.
type costAccumulators struct {
	rent, food, transport, entertainment, utilities, other Accumulator
	contributors                                           int
	lastUpdated                                            time.Time
}

func (c *costAccumulators) add(st *student) {
	contributed := false
	rentAdded := false
	if st.expenses != nil {
		e := st.expenses.data
		rentAdded = c.rent.Add(e[forms.FieldExpAccomm])
		contributed = rentAdded
		contributed = c.food.Add(e[forms.FieldExpFood]) || contributed
		contributed = c.transport.Add(e[forms.FieldExpTransport]) || contributed
		contributed = c.entertainment.Add(e[forms.FieldExpEntertain]) || contributed
		contributed = c.utilities.Add(e[forms.FieldExpUtilities]) || contributed
		contributed = c.other.Add(e[forms.FieldExpOther]) || contributed
		c.touch(st.expenses.submission.UpdatedAt)
	}
	if !rentAdded {
		contributed = c.rent.Add(st.basic.data[forms.FieldMonthlyRent]) || contributed
	}
	if contributed {
		c.contributors++
		c.touch(st.basic.submission.UpdatedAt)
	}
}

func (c *costAccumulators) touch(t time.Time) {
	if t.After(c.lastUpdated) {
		c.lastUpdated = t
	}
}

func (c *costAccumulators) monthlyTotal() float64 {
	return c.rent.Average() + c.food.Average() + c.transport.Average() + c.entertainment.Average()
}

// CostSummary is the cost-of-living payload for one city.
type CostSummary struct {
	City             string    `json:"city"`
	Country          string    `json:"country"`
	AvgAccommodation float64   `json:"avgAccommodation"`
	AvgFood          float64   `json:"avgFood"`
	AvgTransport     float64   `json:"avgTransport"`
	AvgEntertainment float64   `json:"avgEntertainment"`
	TotalMonthly     float64   `json:"totalMonthly"`
	Currency         string    `json:"currency"`
	SampleSize       int       `json:"sampleSize"`
	LastUpdated      time.Time `json:"lastUpdated"`
}

// Costs averages the living costs reported for city/country (case-insensitive).
// No matching data yields a zeroed summary with SampleSize 0.
func (s *Service) Costs(ctx context.Context, city, country string, filter Filter) (CostSummary, error) {
	summary := CostSummary{
		City:        strings.TrimSpace(city),
		Country:     strings.TrimSpace(country),
		Currency:    Currency,
		LastUpdated: time.Now().UTC(),
	}

	students, err := s.loadStudents(ctx, filter)
	if err != nil {
		return CostSummary{}, err
	}

	want := locationKey(city, country)
	var acc costAccumulators
	for _, st := range students {
		if locationKey(st.city, st.country) != want {
			continue
		}
		acc.add(st)
	}
	if acc.contributors == 0 {
		return summary, nil
	}

	summary.AvgAccommodation = round2(acc.rent.Average())
	summary.AvgFood = round2(acc.food.Average())
	summary.AvgTransport = round2(acc.transport.Average())
	summary.AvgEntertainment = round2(acc.entertainment.Average())
	summary.TotalMonthly = round2(acc.monthlyTotal())
	summary.SampleSize = acc.contributors
	summary.LastUpdated = acc.lastUpdated.UTC()
	return summary, nil
}

// CityStats summarises one (city, country) group.
type CityStats struct {
	City               string   `json:"city"`
	Country            string   `json:"country"`
	StudentCount       int      `json:"studentCount"`
	SubmissionCount    int      `json:"submissionCount"`
	Universities       []string `json:"universities"`
	Departments        []string `json:"departments"`
	StudyLevels        []string `json:"studyLevels"`
	AvgRent            float64  `json:"avgRent"`
	AvgFood            float64  `json:"avgFood"`
	AvgTransport       float64  `json:"avgTransport"`
	AvgEntertainment   float64  `json:"avgEntertainment"`
	AvgUtilities       float64  `json:"avgUtilities"`
	AvgOther           float64  `json:"avgOther"`
	AvgMonthlyTotal    float64  `json:"avgMonthlyTotal"`
	CostSampleSize     int      `json:"costSampleSize"`
	CourseMatchCount   int      `json:"courseMatchCount"`
	AccommodationCount int      `json:"accommodationCount"`
}

type cityGroup struct {
	stats        CityStats
	users        map[uint]struct{}
	universities stringSet
	departments  stringSet
	levels       stringSet
	costs        costAccumulators
}

// CityStats groups students by host city and country, sorted by student count descending,
// then city and country for a stable order.
func (s *Service) CityStats(ctx context.Context, filter Filter) ([]CityStats, error) {
	students, err := s.loadStudents(ctx, filter)
	if err != nil {
		return nil, err
	}

	groups := map[string]*cityGroup{}
	order := make([]string, 0)
	for _, st := range students {
		key := locationKey(st.city, st.country)
		g, ok := groups[key]
		if !ok {
			g = &cityGroup{
				stats:        CityStats{City: st.city, Country: st.country},
				users:        map[uint]struct{}{},
				universities: stringSet{},
				departments:  stringSet{},
				levels:       stringSet{},
			}
			groups[key] = g
			order = append(order, key)
		}
		g.users[st.basic.submission.UserID] = struct{}{}
		g.stats.SubmissionCount++
		g.universities.add(forms.String(st.basic.data, forms.FieldHostUniversity))
		g.departments.add(forms.String(st.basic.data, forms.FieldDepartment))
		g.levels.add(forms.String(st.basic.data, forms.FieldLevelOfStudy))
		g.stats.CourseMatchCount += len(st.courses)
		g.stats.AccommodationCount += len(st.accommodations)
		g.costs.add(st)
	}

	out := make([]CityStats, 0, len(groups))
	for _, key := range order {
		g := groups[key]
		stats := g.stats
		stats.StudentCount = len(g.users)
		stats.Universities = g.universities.sorted()
		stats.Departments = g.departments.sorted()
		stats.StudyLevels = g.levels.sorted()
		stats.AvgRent = round2(g.costs.rent.Average())
		stats.AvgFood = round2(g.costs.food.Average())
		stats.AvgTransport = round2(g.costs.transport.Average())
		stats.AvgEntertainment = round2(g.costs.entertainment.Average())
		stats.AvgUtilities = round2(g.costs.utilities.Average())
		stats.AvgOther = round2(g.costs.other.Average())
		stats.AvgMonthlyTotal = round2(g.costs.monthlyTotal())
		stats.CostSampleSize = g.costs.contributors
		out = append(out, stats)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].StudentCount != out[j].StudentCount {
			return out[i].StudentCount > out[j].StudentCount
		}
		if ci, cj := strings.ToLower(out[i].City), strings.ToLower(out[j].City); ci != cj {
			return ci < cj
		}
		return strings.ToLower(out[i].Country) < strings.ToLower(out[j].Country)
	})
	return out, nil
}

// City returns the stats of a single city, or false when nobody reported it.
func (s *Service) City(ctx context.Context, city, country string, filter Filter) (CityStats, bool, error) {
	all, err := s.CityStats(ctx, filter)
	if err != nil {
		return CityStats{}, false, err
	}
	want := locationKey(city, country)
	for _, stats := range all {
		if locationKey(stats.City, stats.Country) == want {
			return stats, true, nil
		}
	}
	return CityStats{}, false, nil
}

// PopularDestinations returns the limit cities with the most students.
func (s *Service) PopularDestinations(ctx context.Context, limit int, filter Filter) ([]CityStats, error) {
	all, err := s.CityStats(ctx, filter)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// UniversityStats summarises one host university.
type UniversityStats struct {
	University       string   `json:"university"`
	City             string   `json:"city"`
	Country          string   `json:"country"`
	StudentCount     int      `json:"studentCount"`
	Departments      []string `json:"departments"`
	StudyLevels      []string `json:"studyLevels"`
	AvgRent          float64  `json:"avgRent"`
	RentSampleSize   int      `json:"rentSampleSize"`
	CourseMatchCount int      `json:"courseMatchCount"`
}

// UniversityStats groups students by host university, sorted by student count descending then name.
func (s *Service) UniversityStats(ctx context.Context, filter Filter) ([]UniversityStats, error) {
	students, err := s.loadStudents(ctx, filter)
	if err != nil {
		return nil, err
	}

	type uniGroup struct {
		stats       UniversityStats
		users       map[uint]struct{}
		departments stringSet
		levels      stringSet
		costs       costAccumulators
	}
	groups := map[string]*uniGroup{}
	order := make([]string, 0)
	for _, st := range students {
		name := forms.String(st.basic.data, forms.FieldHostUniversity)
		if name == "" {
			continue
		}
		key := strings.ToLower(name)
		g, ok := groups[key]
		if !ok {
			g = &uniGroup{
				stats:       UniversityStats{University: name, City: st.city, Country: st.country},
				users:       map[uint]struct{}{},
				departments: stringSet{},
				levels:      stringSet{},
			}
			groups[key] = g
			order = append(order, key)
		}
		g.users[st.basic.submission.UserID] = struct{}{}
		g.departments.add(forms.String(st.basic.data, forms.FieldDepartment))
		g.levels.add(forms.String(st.basic.data, forms.FieldLevelOfStudy))
		g.stats.CourseMatchCount += len(st.courses)
		g.costs.add(st)
	}

	out := make([]UniversityStats, 0, len(groups))
	for _, key := range order {
		g := groups[key]
		stats := g.stats
		stats.StudentCount = len(g.users)
		stats.Departments = g.departments.sorted()
		stats.StudyLevels = g.levels.sorted()
		stats.AvgRent = round2(g.costs.rent.Average())
		stats.RentSampleSize = g.costs.rent.Count
		out = append(out, stats)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].StudentCount != out[j].StudentCount {
			return out[i].StudentCount > out[j].StudentCount
		}
		return strings.ToLower(out[i].University) < strings.ToLower(out[j].University)
	})
	return out, nil
}

// PlatformStats summarises one accommodation booking platform.
type PlatformStats struct {
	Platform    string  `json:"platform"`
	Count       int     `json:"count"`
	AvgRent     float64 `json:"avgRent"`
	RentSamples int     `json:"rentSamples"`
}

// AccommodationPlatforms counts ACCOMMODATION submissions per booking platform,
// sorted by count descending then name.
func (s *Service) AccommodationPlatforms(ctx context.Context, filter Filter) ([]PlatformStats, error) {
	records, err := s.load(ctx, forms.TypeAccommodation, filter)
	if err != nil {
		return nil, err
	}

	type platformGroup struct {
		stats PlatformStats
		rent  Accumulator
	}
	groups := map[string]*platformGroup{}
	order := make([]string, 0)
	for _, r := range records {
		name := forms.String(r.data, forms.FieldBookingPlatform)
		if name == "" {
			continue
		}
		key := strings.ToLower(name)
		g, ok := groups[key]
		if !ok {
			g = &platformGroup{stats: PlatformStats{Platform: name}}
			groups[key] = g
			order = append(order, key)
		}
		g.stats.Count++
		g.rent.Add(r.data[forms.FieldMonthlyRent])
	}

	out := make([]PlatformStats, 0, len(groups))
	for _, key := range order {
		g := groups[key]
		stats := g.stats
		stats.AvgRent = round2(g.rent.Average())
		stats.RentSamples = g.rent.Count
		out = append(out, stats)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return strings.ToLower(out[i].Platform) < strings.ToLower(out[j].Platform)
	})
	return out, nil
}

// LocationOf resolves the host city and country a submission belongs to: its own
// payload for BASIC_INFO, otherwise the linked BASIC_INFO (foreign key first, then
// the owner's most recent BASIC_INFO).
func (s *Service) LocationOf(ctx context.Context, submission database.FormSubmission) (city, country string, basic *database.FormSubmission, err error) {
	if forms.Type(submission.Type) == forms.TypeBasicInfo {
		data, err := forms.Decode(submission.Data)
		if err != nil {
			return "", "", nil, err
		}
		return forms.String(data, forms.FieldHostCity), forms.String(data, forms.FieldHostCountry), &submission, nil
	}

	var parent database.FormSubmission
	found := false
	if submission.BasicInfoID != nil {
		err := s.db.WithContext(ctx).
			Where("id = ? AND type = ?", *submission.BasicInfoID, string(forms.TypeBasicInfo)).
			Limit(1).Find(&parent).Error
		if err != nil {
			return "", "", nil, fmt.Errorf("load basic info: %w", err)
		}
		found = parent.ID != 0
	}
	if !found {
		err := s.db.WithContext(ctx).
			Where("user_id = ? AND type = ?", submission.UserID, string(forms.TypeBasicInfo)).
			Order("created_at DESC, id DESC").
			Limit(1).Find(&parent).Error
		if err != nil {
			return "", "", nil, fmt.Errorf("load latest basic info: %w", err)
		}
		found = parent.ID != 0
	}
	if !found {
		return "", "", nil, nil
	}

	data, err := forms.Decode(parent.Data)
	if err != nil {
		return "", "", nil, err
	}
	return forms.String(data, forms.FieldHostCity), forms.String(data, forms.FieldHostCountry), &parent, nil
}
