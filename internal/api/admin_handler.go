package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"erasmusjourney/internal/aggregate"
	"erasmusjourney/internal/api/middleware"
	"erasmusjourney/internal/database"
	"erasmusjourney/internal/forms"
	"erasmusjourney/internal/metrics"
	"erasmusjourney/internal/tasks"
)

var errNoFields = errors.New("no fields to update")

// AdminHandler serves moderation of submissions, generated previews, destinations and users.
type AdminHandler struct {
	db           *gorm.DB
	stats        *aggregate.Service
	costs        *aggregate.CostsCache
	queue        TaskEnqueuer
	images       ObjectStore
	scanner      VirusScanner
	defaultImage string
	logger       *slog.Logger
}

// NewAdminHandler constructs an AdminHandler. costs, queue, images and scanner may be nil.
func NewAdminHandler(db *gorm.DB, stats *aggregate.Service, costs *aggregate.CostsCache, queue TaskEnqueuer, images ObjectStore, scanner VirusScanner, defaultImage string, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		db:           db,
		stats:        stats,
		costs:        costs,
		queue:        queue,
		images:       images,
		scanner:      scanner,
		defaultImage: defaultImage,
		logger:       logger,
	}
}

// ListSubmissions pages through every submission, optionally filtered by status and type.
func (h *AdminHandler) ListSubmissions(c *gin.Context) {
	page := parsePagination(c, 20, 100)
	query := h.db.WithContext(c.Request.Context()).Model(&database.FormSubmission{})

	if raw := c.Query("status"); raw != "" {
		status, ok := forms.ParseStatus(raw)
		if !ok {
			BadRequest(c, "invalid status")
			return
		}
		query = query.Where("status = ?", string(status))
	}
	if raw := c.Query("type"); raw != "" {
		formType, ok := forms.ParseType(raw)
		if !ok {
			BadRequest(c, "unknown form type")
			return
		}
		query = query.Where("type = ?", string(formType))
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		InternalError(c, "failed to count submissions", err)
		return
	}

	var rows []database.FormSubmission
	if err := query.Order("created_at DESC, id DESC").Offset(page.Offset()).Limit(page.Limit).Find(&rows).Error; err != nil {
		InternalError(c, "failed to list submissions", err)
		return
	}

	items := make([]submissionResponse, 0, len(rows))
	for _, row := range rows {
		items = append(items, newSubmissionResponse(row, true))
	}
	c.JSON(http.StatusOK, page.envelope("submissions", items, total))
}

type moderateSubmissionRequest struct {
	Status     *string `json:"status"`
	Featured   *bool   `json:"featured"`
	Visible    *bool   `json:"visible"`
	AdminNotes *string `json:"adminNotes"`
}

// UpdateSubmission sets status and moderation flags. Any status may be set from any
// other; publishing enqueues preview generation.
func (h *AdminHandler) UpdateSubmission(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		BadRequest(c, "invalid submission id")
		return
	}
	var req moderateSubmissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	updates := flagUpdates(req.Featured, req.Visible, req.AdminNotes)
	publishing := false
	if req.Status != nil {
		status, ok := forms.ParseStatus(*req.Status)
		if !ok {
			BadRequest(c, "invalid status")
			return
		}
		updates["status"] = string(status)
		publishing = status == forms.StatusPublished
	}
	if len(updates) == 0 {
		BadRequest(c, errNoFields.Error())
		return
	}

	ctx := c.Request.Context()
	logger := loggerFromContext(c, h.logger).With(slog.Uint64("submission_id", uint64(id)))

	var submission database.FormSubmission
	if !h.updateByID(c, &submission, id, updates, "submission") {
		return
	}
	metrics.ObserveModeration("submission", "update")
	if req.Status != nil {
		dropCachedCosts(ctx, h.costs, h.stats, logger, submission)
	}

	if publishing {
		h.enqueuePublished(ctx, c, submission.ID, logger)
	}

	logger.Info("submission moderated", slog.String("status", submission.Status))
	c.JSON(http.StatusOK, gin.H{"submission": newSubmissionResponse(submission, true)})
}

func (h *AdminHandler) enqueuePublished(ctx context.Context, c *gin.Context, submissionID uint, logger *slog.Logger) {
	if h.queue == nil {
		return
	}
	task, err := tasks.NewSubmissionPublishedTask(submissionID, middleware.GetCorrelationID(c))
	if err != nil {
		logger.Error("build publish task failed", slog.Any("error", err))
		return
	}
	// The status change stands even if the follow-up cannot be queued; the nightly refresh catches up.
	if _, err := h.queue.EnqueueContext(ctx, task); err != nil {
		logger.Error("enqueue publish task failed", slog.Any("error", err))
	}
}

// DeleteSubmission removes a submission permanently. Linked follow-ups are kept and
// lose their reference; generated previews of the submission go with it.
func (h *AdminHandler) DeleteSubmission(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		BadRequest(c, "invalid submission id")
		return
	}

	ctx := c.Request.Context()
	var deleted database.FormSubmission
	err = h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var submission database.FormSubmission
		if err := tx.Unscoped().First(&submission, id).Error; err != nil {
			return err
		}
		deleted = submission
		if err := tx.Model(&database.FormSubmission{}).
			Unscoped().
			Where("basic_info_id = ?", id).
			Update("basic_info_id", nil).Error; err != nil {
			return err
		}
		if err := tx.Unscoped().Where("submission_id = ?", id).Delete(&database.Accommodation{}).Error; err != nil {
			return err
		}
		if err := tx.Unscoped().Where("submission_id = ?", id).Delete(&database.CourseExchange{}).Error; err != nil {
			return err
		}
		return tx.Unscoped().Delete(&submission).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "submission not found")
			return
		}
		InternalError(c, "failed to delete submission", err)
		return
	}

	logger := loggerFromContext(c, h.logger).With(slog.Uint64("submission_id", uint64(id)))
	if forms.Type(deleted.Type) == forms.TypeBasicInfo {
		// Its follow-ups fall back to the owner's other BASIC_INFO rows, wherever they are.
		if h.costs != nil {
			if err := h.costs.Invalidate(ctx, "", ""); err != nil {
				logger.Warn("invalidate costs cache failed", slog.Any("error", err))
			}
		}
	} else {
		dropCachedCosts(ctx, h.costs, h.stats, logger, deleted)
	}

	metrics.ObserveModeration("submission", "delete")
	c.JSON(http.StatusOK, gin.H{"message": "submission deleted"})
}

type previewFlagsRequest struct {
	Featured   *bool   `json:"featured"`
	Visible    *bool   `json:"visible"`
	AdminNotes *string `json:"adminNotes"`
}

// ListCourseExchanges lists generated course-exchange previews, optionally for one destination.
func (h *AdminHandler) ListCourseExchanges(c *gin.Context) {
	var rows []database.CourseExchange
	if !h.listPreviews(c, &rows) {
		return
	}
	items := make([]courseExchangeResponse, 0, len(rows))
	for _, row := range rows {
		items = append(items, newCourseExchangeResponse(row, true))
	}
	c.JSON(http.StatusOK, gin.H{"courseExchanges": items})
}

// UpdateCourseExchange applies a partial flag update; repeating it is a no-op.
func (h *AdminHandler) UpdateCourseExchange(c *gin.Context) {
	var row database.CourseExchange
	if !h.patchPreview(c, &row, "course exchange") {
		return
	}
	metrics.ObserveModeration("course_exchange", "update")
	c.JSON(http.StatusOK, gin.H{"courseExchange": newCourseExchangeResponse(row, true)})
}

// DeleteCourseExchange removes a preview permanently.
func (h *AdminHandler) DeleteCourseExchange(c *gin.Context) {
	if !h.deletePreview(c, &database.CourseExchange{}, "course exchange") {
		return
	}
	metrics.ObserveModeration("course_exchange", "delete")
	c.JSON(http.StatusOK, gin.H{"message": "course exchange deleted"})
}

// ListAccommodations lists generated accommodation previews, optionally for one destination.
func (h *AdminHandler) ListAccommodations(c *gin.Context) {
	var rows []database.Accommodation
	if !h.listPreviews(c, &rows) {
		return
	}
	items := make([]accommodationResponse, 0, len(rows))
	for _, row := range rows {
		items = append(items, newAccommodationResponse(row, true))
	}
	c.JSON(http.StatusOK, gin.H{"accommodations": items})
}

// UpdateAccommodation applies a partial flag update; repeating it is a no-op.
func (h *AdminHandler) UpdateAccommodation(c *gin.Context) {
	var row database.Accommodation
	if !h.patchPreview(c, &row, "accommodation") {
		return
	}
	metrics.ObserveModeration("accommodation", "update")
	c.JSON(http.StatusOK, gin.H{"accommodation": newAccommodationResponse(row, true)})
}

// DeleteAccommodation removes a preview permanently.
func (h *AdminHandler) DeleteAccommodation(c *gin.Context) {
	if !h.deletePreview(c, &database.Accommodation{}, "accommodation") {
		return
	}
	metrics.ObserveModeration("accommodation", "delete")
	c.JSON(http.StatusOK, gin.H{"message": "accommodation deleted"})
}

func (h *AdminHandler) listPreviews(c *gin.Context, dest any) bool {
	query := h.db.WithContext(c.Request.Context())
	if raw := c.Query("destinationId"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || id == 0 {
			BadRequest(c, "invalid destination id")
			return false
		}
		query = query.Where("destination_id = ?", uint(id))
	}
	if err := query.Order("id DESC").Find(dest).Error; err != nil {
		InternalError(c, "failed to list previews", err)
		return false
	}
	return true
}

func (h *AdminHandler) patchPreview(c *gin.Context, row any, label string) bool {
	id, err := parseIDParam(c, "id")
	if err != nil {
		BadRequest(c, "invalid "+label+" id")
		return false
	}
	var req previewFlagsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return false
	}
	updates := flagUpdates(req.Featured, req.Visible, req.AdminNotes)
	if len(updates) == 0 {
		BadRequest(c, errNoFields.Error())
		return false
	}
	return h.updateByID(c, row, id, updates, label)
}

// updateByID loads row, applies updates and reloads it, answering 404/500 itself.
func (h *AdminHandler) updateByID(c *gin.Context, row any, id uint, updates map[string]any, label string) bool {
	db := h.db.WithContext(c.Request.Context())
	if err := db.First(row, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, label+" not found")
			return false
		}
		InternalError(c, "failed to load "+label, err)
		return false
	}
	if err := db.Model(row).Updates(updates).Error; err != nil {
		InternalError(c, "failed to update "+label, err)
		return false
	}
	if err := db.First(row, id).Error; err != nil {
		InternalError(c, "failed to reload "+label, err)
		return false
	}
	return true
}

func (h *AdminHandler) deletePreview(c *gin.Context, model any, label string) bool {
	id, err := parseIDParam(c, "id")
	if err != nil {
		BadRequest(c, "invalid "+label+" id")
		return false
	}
	result := h.db.WithContext(c.Request.Context()).Unscoped().Delete(model, id)
	if result.Error != nil {
		InternalError(c, "failed to delete "+label, result.Error)
		return false
	}
	if result.RowsAffected == 0 {
		NotFound(c, label+" not found")
		return false
	}
	return true
}

type roleRequest struct {
	Role string `json:"role" binding:"required"`
}

// UpdateUserRole promotes or demotes a user. Admins cannot demote themselves.
func (h *AdminHandler) UpdateUserRole(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		BadRequest(c, "invalid user id")
		return
	}
	var req roleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	role := strings.ToUpper(strings.TrimSpace(req.Role))
	if role != database.RoleUser && role != database.RoleAdmin {
		BadRequest(c, "role must be USER or ADMIN")
		return
	}
	if callerID, ok := userIDFromContext(c); ok && callerID == id && role != database.RoleAdmin {
		BadRequest(c, "admins cannot demote themselves")
		return
	}

	var user database.User
	if !h.updateByID(c, &user, id, map[string]any{"role": role}, "user") {
		return
	}
	metrics.ObserveModeration("user", "role")
	loggerFromContext(c, h.logger).Info("user role changed",
		slog.Uint64("user_id", uint64(user.ID)),
		slog.String("role", role),
	)
	c.JSON(http.StatusOK, gin.H{"user": newUserResponse(user)})
}

func flagUpdates(featured, visible *bool, notes *string) map[string]any {
	updates := map[string]any{}
	if featured != nil {
		updates["featured"] = *featured
	}
	if visible != nil {
		updates["visible"] = *visible
	}
	if notes != nil {
		updates["admin_notes"] = forms.SanitizePlain(*notes)
	}
	return updates
}
