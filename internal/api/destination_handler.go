package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"erasmusjourney/internal/aggregate"
	"erasmusjourney/internal/database"
	"erasmusjourney/internal/metrics"
)

const imageURLTTL = time.Hour

// DestinationHandler serves curated destinations and the statistics generated from submissions.
type DestinationHandler struct {
	db           *gorm.DB
	stats        *aggregate.Service
	costsCache   *aggregate.CostsCache
	images       ObjectStore
	defaultImage string
	logger       *slog.Logger
}

// NewDestinationHandler constructs a DestinationHandler. images may be nil.
func NewDestinationHandler(db *gorm.DB, stats *aggregate.Service, costsCache *aggregate.CostsCache, images ObjectStore, defaultImage string, logger *slog.Logger) *DestinationHandler {
	return &DestinationHandler{
		db:           db,
		stats:        stats,
		costsCache:   costsCache,
		images:       images,
		defaultImage: defaultImage,
		logger:       logger,
	}
}

// generatedDestination merges a city's statistics with its curated record, when one exists.
type generatedDestination struct {
	ID          *uint  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	ImageURL    string `json:"imageUrl"`
	Featured    bool   `json:"featured"`
	Status      string `json:"status"`
	aggregate.CityStats
}

// Generated lists every city students reported on, merged with curated destinations.
func (h *DestinationHandler) Generated(c *gin.Context) {
	ctx := c.Request.Context()
	page := parsePagination(c, 12, 50)

	status := strings.ToUpper(strings.TrimSpace(c.DefaultQuery("status", database.DestinationPublished)))
	if status != database.DestinationPublished && status != database.DestinationDraft {
		BadRequest(c, "status must be PUBLISHED or DRAFT")
		return
	}
	country := strings.TrimSpace(c.Query("country"))
	featured := parseBoolQuery(c, "featured")

	stats, err := h.stats.CityStats(ctx, aggregate.DefaultFilter())
	if err != nil {
		loggerFromContext(c, h.logger).Error("compute city stats failed", slog.Any("error", err))
		InternalError(c, "failed to compute destinations", err)
		return
	}

	var curated []database.Destination
	if err := h.db.WithContext(ctx).Find(&curated).Error; err != nil {
		InternalError(c, "failed to load destinations", err)
		return
	}
	byKey := make(map[string]database.Destination, len(curated))
	for _, d := range curated {
		byKey[cityKey(d.Name, d.Country)] = d
	}

	merged := make([]generatedDestination, 0, len(stats)+len(curated))
	seen := make(map[string]struct{}, len(stats))
	for _, s := range stats {
		key := cityKey(s.City, s.Country)
		seen[key] = struct{}{}
		item := generatedDestination{
			Name:      s.City,
			ImageURL:  h.defaultImage,
			Status:    database.DestinationPublished,
			CityStats: s,
		}
		if d, ok := byKey[key]; ok {
			h.applyCurated(ctx, &item, d)
		}
		merged = append(merged, item)
	}
	// Curated cities nobody has reported on yet.
	for _, d := range curated {
		if _, ok := seen[cityKey(d.Name, d.Country)]; ok {
			continue
		}
		item := generatedDestination{CityStats: emptyCityStats(d.Name, d.Country)}
		h.applyCurated(ctx, &item, d)
		merged = append(merged, item)
	}

	filtered := merged[:0]
	for _, item := range merged {
		if item.Status != status {
			continue
		}
		if country != "" && !strings.EqualFold(item.Country, country) {
			continue
		}
		if featured != nil && item.Featured != *featured {
			continue
		}
		filtered = append(filtered, item)
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		if filtered[i].Featured != filtered[j].Featured {
			return filtered[i].Featured
		}
		return false
	})

	total := len(filtered)
	start := page.Offset()
	if start > total {
		start = total
	}
	end := start + page.Limit
	if end > total {
		end = total
	}

	c.JSON(http.StatusOK, page.envelope("destinations", filtered[start:end], int64(total)))
}

func (h *DestinationHandler) applyCurated(ctx context.Context, item *generatedDestination, d database.Destination) {
	id := d.ID
	item.ID = &id
	item.Name = d.Name
	item.Description = d.Description
	item.Featured = d.Featured
	item.Status = d.Status
	item.ImageURL = h.imageURL(ctx, d)
	if item.City == "" {
		item.City = d.Name
		item.Country = d.Country
	}
}

// Costs reports average monthly costs for a city. Unknown cities get a zeroed summary.
func (h *DestinationHandler) Costs(c *gin.Context) {
	city := strings.TrimSpace(c.Query("city"))
	country := strings.TrimSpace(c.Query("country"))
	if city == "" || country == "" {
		BadRequest(c, "city and country are required")
		return
	}

	ctx := c.Request.Context()
	logger := loggerFromContext(c, h.logger)

	cached, hit, err := h.costsCache.Get(ctx, city, country)
	if err != nil {
		logger.Warn("costs cache read failed", slog.Any("error", err))
	}
	metrics.ObserveCostsCache(hit)
	if hit {
		c.JSON(http.StatusOK, cached)
		return
	}

	summary, err := h.stats.Costs(ctx, city, country, aggregate.DefaultFilter())
	if err != nil {
		logger.Error("compute costs failed", slog.Any("error", err))
		InternalError(c, "failed to compute costs", err)
		return
	}
	if err := h.costsCache.Set(ctx, city, country, summary); err != nil {
		logger.Warn("costs cache write failed", slog.Any("error", err))
	}
	c.JSON(http.StatusOK, summary)
}

// Popular returns the cities with the most students.
func (h *DestinationHandler) Popular(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "6"))
	if err != nil || limit < 1 {
		limit = 6
	}
	if limit > 50 {
		limit = 50
	}

	popular, err := h.stats.PopularDestinations(c.Request.Context(), limit, aggregate.DefaultFilter())
	if err != nil {
		InternalError(c, "failed to compute popular destinations", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"destinations": popular})
}

// Platforms counts accommodation submissions per booking platform.
func (h *DestinationHandler) Platforms(c *gin.Context) {
	platforms, err := h.stats.AccommodationPlatforms(c.Request.Context(), aggregate.DefaultFilter())
	if err != nil {
		InternalError(c, "failed to compute platforms", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"platforms": platforms})
}

// List returns published curated destinations.
func (h *DestinationHandler) List(c *gin.Context) {
	ctx := c.Request.Context()
	query := h.db.WithContext(ctx).Where("status = ?", database.DestinationPublished)
	if country := strings.TrimSpace(c.Query("country")); country != "" {
		query = query.Where("LOWER(country) = ?", strings.ToLower(country))
	}
	if featured := parseBoolQuery(c, "featured"); featured != nil {
		query = query.Where("featured = ?", *featured)
	}

	var rows []database.Destination
	if err := query.Order("featured DESC, student_count DESC, name ASC").Find(&rows).Error; err != nil {
		InternalError(c, "failed to list destinations", err)
		return
	}

	items := make([]destinationResponse, 0, len(rows))
	for _, d := range rows {
		items = append(items, h.newDestinationResponse(ctx, d))
	}
	c.JSON(http.StatusOK, gin.H{"destinations": items})
}

// Detail returns a published destination with its visible previews and live statistics.
func (h *DestinationHandler) Detail(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		BadRequest(c, "invalid destination id")
		return
	}

	ctx := c.Request.Context()
	var d database.Destination
	err = h.db.WithContext(ctx).
		Where("id = ? AND status = ?", id, database.DestinationPublished).
		Preload("Accommodations", "visible = ?", true, func(db *gorm.DB) *gorm.DB {
			return db.Order("featured DESC, id ASC")
		}).
		Preload("CourseExchanges", "visible = ?", true, func(db *gorm.DB) *gorm.DB {
			return db.Order("featured DESC, id ASC")
		}).
		First(&d).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "destination not found")
			return
		}
		InternalError(c, "failed to load destination", err)
		return
	}

	stats, _, err := h.stats.City(ctx, d.Name, d.Country, aggregate.DefaultFilter())
	if err != nil {
		InternalError(c, "failed to compute destination stats", err)
		return
	}
	if stats.City == "" {
		stats = emptyCityStats(d.Name, d.Country)
	}

	accommodations := make([]accommodationResponse, 0, len(d.Accommodations))
	for _, a := range d.Accommodations {
		accommodations = append(accommodations, newAccommodationResponse(a, false))
	}
	courses := make([]courseExchangeResponse, 0, len(d.CourseExchanges))
	for _, e := range d.CourseExchanges {
		courses = append(courses, newCourseExchangeResponse(e, false))
	}

	c.JSON(http.StatusOK, gin.H{
		"destination":     h.newDestinationResponse(ctx, d),
		"stats":           stats,
		"accommodations":  accommodations,
		"courseExchanges": courses,
	})
}

// imageURL prefers an uploaded image, then a curated link, then the configured default.
func (h *DestinationHandler) imageURL(ctx context.Context, d database.Destination) string {
	return resolveImageURL(ctx, h.images, d, h.defaultImage, h.logger)
}

func resolveImageURL(ctx context.Context, images ObjectStore, d database.Destination, fallback string, logger *slog.Logger) string {
	if d.ImageKey != "" && images != nil {
		url, err := images.GeneratePresignedURL(ctx, d.ImageKey, imageURLTTL)
		if err == nil {
			return url
		}
		if logger != nil {
			logger.Warn("presign destination image failed", slog.Uint64("destination_id", uint64(d.ID)), slog.Any("error", err))
		}
	}
	if strings.TrimSpace(d.ImageURL) != "" {
		return d.ImageURL
	}
	return fallback
}

func (h *DestinationHandler) newDestinationResponse(ctx context.Context, d database.Destination) destinationResponse {
	return newDestinationResponse(d, h.imageURL(ctx, d))
}

func newDestinationResponse(d database.Destination, imageURL string) destinationResponse {
	resp := destinationResponse{
		ID:             d.ID,
		Name:           d.Name,
		City:           d.Name,
		Country:        d.Country,
		Description:    d.Description,
		ImageURL:       imageURL,
		Featured:       d.Featured,
		Status:         d.Status,
		Climate:        d.Climate,
		StudentCount:   d.StudentCount,
		AvgRent:        d.AvgRent,
		AvgMonthlyCost: d.AvgMonthlyCost,
		RefreshedAt:    d.RefreshedAt,
	}
	if len(d.Highlights) > 0 {
		resp.Highlights = json.RawMessage(d.Highlights)
	}
	return resp
}

func emptyCityStats(city, country string) aggregate.CityStats {
	return aggregate.CityStats{
		City:         city,
		Country:      country,
		Universities: []string{},
		Departments:  []string{},
		StudyLevels:  []string{},
	}
}

func cityKey(city, country string) string {
	return strings.ToLower(strings.TrimSpace(city)) + "|" + strings.ToLower(strings.TrimSpace(country))
}
