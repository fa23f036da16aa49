package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"erasmusjourney/internal/aggregate"
	"erasmusjourney/internal/database"
)

const universitySearchLimit = 20

// UniversityHandler serves partner university reference data and statistics.
type UniversityHandler struct {
	db    *gorm.DB
	stats *aggregate.Service
}

// NewUniversityHandler constructs a UniversityHandler.
func NewUniversityHandler(db *gorm.DB, stats *aggregate.Service) *UniversityHandler {
	return &UniversityHandler{db: db, stats: stats}
}

type universityResponse struct {
	ID        uint   `json:"id"`
	Name      string `json:"name"`
	ShortName string `json:"shortName,omitempty"`
	Type      string `json:"type,omitempty"`
	Country   string `json:"country"`
	City      string `json:"city"`
	Website   string `json:"website,omitempty"`
}

func newUniversityResponse(u database.University) universityResponse {
	return universityResponse{
		ID:        u.ID,
		Name:      u.Name,
		ShortName: u.ShortName,
		Type:      u.Type,
		Country:   u.Country,
		City:      u.City,
		Website:   u.Website,
	}
}

// Search matches q against name, short name and city.
func (h *UniversityHandler) Search(c *gin.Context) {
	q := strings.ToLower(strings.TrimSpace(c.Query("q")))
	if q == "" {
		BadRequest(c, "query parameter q is required")
		return
	}

	like := "%" + escapeLike(q) + "%"
	query := h.db.WithContext(c.Request.Context()).
		Where("LOWER(name) LIKE ? ESCAPE '\\' OR LOWER(short_name) LIKE ? ESCAPE '\\' OR LOWER(city) LIKE ? ESCAPE '\\'", like, like, like)
	if kind := strings.TrimSpace(c.Query("type")); kind != "" {
		query = query.Where("LOWER(type) = ?", strings.ToLower(kind))
	}
	if country := strings.TrimSpace(c.Query("country")); country != "" {
		query = query.Where("LOWER(country) = ?", strings.ToLower(country))
	}

	var rows []database.University
	if err := query.Order("country ASC, name ASC").Limit(universitySearchLimit).Find(&rows).Error; err != nil {
		InternalError(c, "failed to search universities", err)
		return
	}

	items := make([]universityResponse, 0, len(rows))
	for _, u := range rows {
		items = append(items, newUniversityResponse(u))
	}
	c.JSON(http.StatusOK, gin.H{"universities": items})
}

// Stats groups submissions by host university.
func (h *UniversityHandler) Stats(c *gin.Context) {
	stats, err := h.stats.UniversityStats(c.Request.Context(), aggregate.DefaultFilter())
	if err != nil {
		InternalError(c, "failed to compute university stats", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"universities": stats})
}

type agreementResponse struct {
	ID             uint   `json:"id"`
	HomeDepartment string `json:"homeDepartment"`
	StudyLevel     string `json:"studyLevel"`
	Spots          int    `json:"spots"`
}

// Agreements lists the active agreements with one partner university.
func (h *UniversityHandler) Agreements(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		BadRequest(c, "invalid university id")
		return
	}

	ctx := c.Request.Context()
	var uni database.University
	if err := h.db.WithContext(ctx).First(&uni, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "university not found")
			return
		}
		InternalError(c, "failed to load university", err)
		return
	}

	var rows []database.Agreement
	if err := h.db.WithContext(ctx).
		Where("partner_university_id = ? AND active = ?", uni.ID, true).
		Order("home_department ASC, id ASC").
		Find(&rows).Error; err != nil {
		InternalError(c, "failed to load agreements", err)
		return
	}

	items := make([]agreementResponse, 0, len(rows))
	for _, a := range rows {
		items = append(items, agreementResponse{
			ID:             a.ID,
			HomeDepartment: a.HomeDepartment,
			StudyLevel:     a.StudyLevel,
			Spots:          a.Spots,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"university": newUniversityResponse(uni),
		"agreements": items,
	})
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
