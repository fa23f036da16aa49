package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"erasmusjourney/internal/aggregate"
	"erasmusjourney/internal/database"
	"erasmusjourney/internal/forms"
	"erasmusjourney/internal/metrics"
)

var (
	errParentNotFound = errors.New("basic info submission not found")
	errInvalidPayload = errors.New("data must be a JSON object")
)

// FormHandler serves a student's own form submissions.
type FormHandler struct {
	db     *gorm.DB
	stats  *aggregate.Service
	costs  *aggregate.CostsCache
	logger *slog.Logger
}

// NewFormHandler constructs a FormHandler. costs may be nil.
func NewFormHandler(db *gorm.DB, stats *aggregate.Service, costs *aggregate.CostsCache, logger *slog.Logger) *FormHandler {
	return &FormHandler{db: db, stats: stats, costs: costs, logger: logger}
}

type submitFormRequest struct {
	Type        string          `json:"type" binding:"required"`
	Title       string          `json:"title" binding:"max=255"`
	Data        json.RawMessage `json:"data" binding:"required"`
	Status      string          `json:"status"`
	BasicInfoID *uint           `json:"basicInfoId"`
}

type updateFormRequest struct {
	Title  string          `json:"title" binding:"max=255"`
	Data   json.RawMessage `json:"data" binding:"required"`
	Status string          `json:"status"`
}

// Submit stores one step of the caller's exchange report.
func (h *FormHandler) Submit(c *gin.Context) {
	var req submitFormRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	formType, ok := forms.ParseType(req.Type)
	if !ok {
		BadRequest(c, "unknown form type")
		return
	}
	status, ok := studentStatus(req.Status)
	if !ok {
		BadRequest(c, "status must be DRAFT or SUBMITTED")
		return
	}
	data, err := decodePayload(req.Data)
	if err != nil {
		BadRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	logger := loggerFromContext(c, h.logger).With(
		slog.Uint64("user_id", uint64(userID)),
		slog.String("form_type", string(formType)),
	)

	// A client may also send the reference inside the payload.
	parentID := req.BasicInfoID
	if parentID == nil {
		if id, ok := forms.ExtractBasicInfoID(data); ok {
			parentID = &id
		}
	}
	data = forms.StripLinking(data)

	if formType == forms.TypeBasicInfo {
		parentID = nil
	} else if parentID != nil {
		link, err := h.linkTo(ctx, userID, *parentID, formType)
		if err != nil {
			if errors.Is(err, errParentNotFound) {
				NotFound(c, err.Error())
				return
			}
			logger.Error("load basic info failed", slog.Any("error", err))
			InternalError(c, "failed to link submission", err)
			return
		}
		data = link.Embed(data)
	}

	if msg, ok := validatePayload(data, formType, status); !ok {
		BadRequest(c, msg)
		return
	}

	raw, err := forms.Encode(forms.SanitizeRichText(data))
	if err != nil {
		BadRequest(c, err.Error())
		return
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = string(formType)
	}
	submission := database.FormSubmission{
		UserID:      userID,
		Type:        string(formType),
		Title:       title,
		Data:        datatypes.JSON(raw),
		Status:      string(status),
		BasicInfoID: parentID,
		Visible:     true,
	}
	if err := h.db.WithContext(ctx).Create(&submission).Error; err != nil {
		logger.Error("create submission failed", slog.Any("error", err))
		InternalError(c, "failed to save submission", err)
		return
	}

	if aggregate.DefaultFilter().Includes(submission.Status) {
		dropCachedCosts(ctx, h.costs, h.stats, logger, submission)
	}

	metrics.ObserveFormSubmission(submission.Type, submission.Status)
	logger.Info("submission created", slog.Uint64("submission_id", uint64(submission.ID)))
	c.JSON(http.StatusCreated, gin.H{"submission": newSubmissionResponse(submission, false)})
}

// List returns the caller's submissions, newest first.
func (h *FormHandler) List(c *gin.Context) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return
	}

	query := h.db.WithContext(c.Request.Context()).Where("user_id = ?", userID)
	if raw := c.Query("type"); raw != "" {
		formType, ok := forms.ParseType(raw)
		if !ok {
			BadRequest(c, "unknown form type")
			return
		}
		query = query.Where("type = ?", string(formType))
	}

	var rows []database.FormSubmission
	if err := query.Order("created_at DESC, id DESC").Find(&rows).Error; err != nil {
		InternalError(c, "failed to list submissions", err)
		return
	}

	items := make([]submissionResponse, 0, len(rows))
	for _, row := range rows {
		items = append(items, newSubmissionResponse(row, false))
	}
	c.JSON(http.StatusOK, gin.H{"submissions": items})
}

// Get returns one of the caller's submissions.
func (h *FormHandler) Get(c *gin.Context) {
	submission, ok := h.ownSubmission(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"submission": newSubmissionResponse(*submission, false)})
}

// Update replaces the title and data of an unpublished submission.
func (h *FormHandler) Update(c *gin.Context) {
	var req updateFormRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}

	submission, ok := h.ownSubmission(c)
	if !ok {
		return
	}
	if submission.Status == string(forms.StatusPublished) {
		Conflict(c, "published submissions can no longer be edited")
		return
	}

	status := forms.Status(submission.Status)
	if req.Status != "" {
		parsed, ok := studentStatus(req.Status)
		if !ok {
			BadRequest(c, "status must be DRAFT or SUBMITTED")
			return
		}
		// Students only move forward; withdrawing is a moderation action.
		if status == forms.StatusSubmitted && parsed == forms.StatusDraft {
			Conflict(c, "submitted submissions cannot return to draft")
			return
		}
		status = parsed
	}
	before := *submission

	data, err := decodePayload(req.Data)
	if err != nil {
		BadRequest(c, err.Error())
		return
	}
	formType := forms.Type(submission.Type)

	// The link is owned by the server; keep whatever was stored.
	previous, err := forms.Decode(submission.Data)
	if err != nil {
		InternalError(c, "failed to read stored submission", err)
		return
	}
	data = forms.StripLinking(data)
	if submission.BasicInfoID != nil {
		link := forms.LinkingData{
			BasicInfoID:      *submission.BasicInfoID,
			LinkedSubmission: true,
			SubmissionChain:  forms.GetFormChain(previous),
		}
		data = link.Embed(data)
	}

	if msg, ok := validatePayload(data, formType, status); !ok {
		BadRequest(c, msg)
		return
	}

	raw, err := forms.Encode(forms.SanitizeRichText(data))
	if err != nil {
		BadRequest(c, err.Error())
		return
	}

	updates := map[string]any{
		"data":   datatypes.JSON(raw),
		"status": string(status),
	}
	if title := strings.TrimSpace(req.Title); title != "" {
		updates["title"] = title
	}

	ctx := c.Request.Context()
	if err := h.db.WithContext(ctx).Model(submission).Updates(updates).Error; err != nil {
		InternalError(c, "failed to update submission", err)
		return
	}
	if err := h.db.WithContext(ctx).First(submission, submission.ID).Error; err != nil {
		InternalError(c, "failed to reload submission", err)
		return
	}

	counted := aggregate.DefaultFilter()
	if counted.Includes(before.Status) || counted.Includes(submission.Status) {
		logger := loggerFromContext(c, h.logger).With(slog.Uint64("submission_id", uint64(submission.ID)))
		// A BASIC_INFO edit may move the student to another city.
		if formType == forms.TypeBasicInfo {
			dropCachedCosts(ctx, h.costs, h.stats, logger, before)
		}
		dropCachedCosts(ctx, h.costs, h.stats, logger, *submission)
	}

	metrics.ObserveFormSubmission(submission.Type, submission.Status)
	c.JSON(http.StatusOK, gin.H{"submission": newSubmissionResponse(*submission, false)})
}

// dropCachedCosts forgets the cost summary a changed submission feeds. Failures
// only leave the entry to expire by TTL.
func dropCachedCosts(ctx context.Context, costs *aggregate.CostsCache, stats *aggregate.Service, logger *slog.Logger, sub database.FormSubmission) {
	if costs == nil || stats == nil {
		return
	}
	if err := costs.InvalidateSubmission(ctx, stats, sub); err != nil {
		logger.Warn("invalidate costs cache failed", slog.Uint64("submission_id", uint64(sub.ID)), slog.Any("error", err))
	}
}

// Progress reports which steps of the flow anchored at a BASIC_INFO submission are done.
func (h *FormHandler) Progress(c *gin.Context) {
	basic, ok := h.ownSubmission(c)
	if !ok {
		return
	}
	if basic.Type != string(forms.TypeBasicInfo) {
		BadRequest(c, "progress is tracked on BASIC_INFO submissions")
		return
	}

	var children []database.FormSubmission
	if err := h.db.WithContext(c.Request.Context()).
		Where("basic_info_id = ? AND user_id = ?", basic.ID, basic.UserID).
		Order("id ASC").
		Find(&children).Error; err != nil {
		InternalError(c, "failed to load linked submissions", err)
		return
	}

	observed := []forms.Type{forms.TypeBasicInfo}
	items := make([]submissionResponse, 0, len(children))
	for _, child := range children {
		observed = append(observed, forms.Type(child.Type))
		items = append(items, newSubmissionResponse(child, false))
	}

	c.JSON(http.StatusOK, gin.H{
		"basicInfoId":          basic.ID,
		"linkedSubmissions":    items,
		"completionPercentage": forms.CalculateCompletionPercentage(observed, forms.RequiredTypes),
		"missingTypes":         typesOrEmpty(forms.GetMissingFormTypes(observed, forms.RequiredTypes)),
		"requiredTypes":        forms.RequiredTypes,
	})
}

func (h *FormHandler) ownSubmission(c *gin.Context) (*database.FormSubmission, bool) {
	userID, ok := userIDFromContext(c)
	if !ok {
		AbortUnauthorized(c)
		return nil, false
	}
	id, err := parseIDParam(c, "id")
	if err != nil {
		BadRequest(c, "invalid submission id")
		return nil, false
	}

	var submission database.FormSubmission
	if err := h.db.WithContext(c.Request.Context()).
		Where("id = ? AND user_id = ?", id, userID).
		First(&submission).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "submission not found")
			return nil, false
		}
		InternalError(c, "failed to load submission", err)
		return nil, false
	}
	return &submission, true
}

// linkTo checks that parentID is a BASIC_INFO of the user and builds the chain
// from the steps already linked to it.
func (h *FormHandler) linkTo(ctx context.Context, userID, parentID uint, formType forms.Type) (forms.LinkingData, error) {
	var parent database.FormSubmission
	err := h.db.WithContext(ctx).
		Where("id = ? AND user_id = ? AND type = ?", parentID, userID, string(forms.TypeBasicInfo)).
		First(&parent).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return forms.LinkingData{}, errParentNotFound
	}
	if err != nil {
		return forms.LinkingData{}, err
	}

	var siblings []database.FormSubmission
	if err := h.db.WithContext(ctx).
		Select("id", "type").
		Where("basic_info_id = ?", parent.ID).
		Order("id ASC").
		Find(&siblings).Error; err != nil {
		return forms.LinkingData{}, err
	}

	chain := make([]forms.Type, 0, len(siblings))
	for _, s := range siblings {
		chain = append(chain, forms.Type(s.Type))
	}
	return forms.CreateFormLinkingData(parent.ID, formType, chain), nil
}

func studentStatus(raw string) (forms.Status, bool) {
	if strings.TrimSpace(raw) == "" {
		return forms.StatusSubmitted, true
	}
	status, ok := forms.ParseStatus(raw)
	if !ok || status == forms.StatusPublished {
		return "", false
	}
	return status, true
}

func decodePayload(raw json.RawMessage) (map[string]any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, errInvalidPayload
	}
	data, err := forms.Decode(trimmed)
	if err != nil {
		return nil, errInvalidPayload
	}
	return forms.Normalize(data), nil
}

func validatePayload(data map[string]any, formType forms.Type, status forms.Status) (string, bool) {
	if invalid := forms.InvalidNumericFields(data, formType); len(invalid) > 0 {
		return "fields must be numeric: " + strings.Join(invalid, ", "), false
	}
	if formType == forms.TypeBasicInfo && status != forms.StatusDraft {
		if err := forms.ValidateRequiredLocation(data); err != nil {
			return err.Error(), false
		}
	}
	return "", true
}

func typesOrEmpty(types []forms.Type) []forms.Type {
	if types == nil {
		return []forms.Type{}
	}
	return types
}
