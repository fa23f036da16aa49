package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"erasmusjourney/internal/api/middleware"
	"erasmusjourney/internal/database"
	"erasmusjourney/internal/forms"
	"erasmusjourney/internal/metrics"
	"erasmusjourney/internal/storage"
	"erasmusjourney/internal/tasks"
)

const maxDestinationImageBytes = 5 << 20

var destinationImageTypes = map[string]string{
	"image/png":  "png",
	"image/jpeg": "jpg",
	"image/webp": "webp",
}

type destinationRequest struct {
	Name        *string   `json:"name"`
	Country     *string   `json:"country"`
	Description *string   `json:"description"`
	ImageURL    *string   `json:"imageUrl"`
	Featured    *bool     `json:"featured"`
	Status      *string   `json:"status"`
	Climate     *string   `json:"climate"`
	Highlights  *[]string `json:"highlights"`
}

// updates validates the request and maps it to column updates.
func (r destinationRequest) updates() (map[string]any, error) {
	updates := map[string]any{}
	if r.Name != nil {
		name := strings.TrimSpace(*r.Name)
		if name == "" {
			return nil, errors.New("name must not be empty")
		}
		updates["name"] = name
	}
	if r.Country != nil {
		country := strings.TrimSpace(*r.Country)
		if country == "" {
			return nil, errors.New("country must not be empty")
		}
		updates["country"] = country
	}
	if r.Description != nil {
		updates["description"] = forms.SanitizeRichText(map[string]any{forms.FieldDescription: *r.Description})[forms.FieldDescription]
	}
	if r.ImageURL != nil {
		updates["image_url"] = strings.TrimSpace(*r.ImageURL)
	}
	if r.Featured != nil {
		updates["featured"] = *r.Featured
	}
	if r.Status != nil {
		status := strings.ToUpper(strings.TrimSpace(*r.Status))
		if status != database.DestinationPublished && status != database.DestinationDraft {
			return nil, errors.New("status must be PUBLISHED or DRAFT")
		}
		updates["status"] = status
	}
	if r.Climate != nil {
		updates["climate"] = strings.TrimSpace(*r.Climate)
	}
	if r.Highlights != nil {
		raw, err := json.Marshal(*r.Highlights)
		if err != nil {
			return nil, err
		}
		updates["highlights"] = datatypes.JSON(raw)
	}
	return updates, nil
}

// ListDestinations returns every curated destination, drafts included.
func (h *AdminHandler) ListDestinations(c *gin.Context) {
	ctx := c.Request.Context()
	var rows []database.Destination
	if err := h.db.WithContext(ctx).Order("country ASC, name ASC").Find(&rows).Error; err != nil {
		InternalError(c, "failed to list destinations", err)
		return
	}
	items := make([]destinationResponse, 0, len(rows))
	for _, d := range rows {
		items = append(items, newDestinationResponse(d, resolveImageURL(ctx, h.images, d, h.defaultImage, h.logger)))
	}
	c.JSON(http.StatusOK, gin.H{"destinations": items})
}

// CreateDestination curates a new (city, country) pair.
func (h *AdminHandler) CreateDestination(c *gin.Context) {
	var req destinationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	if req.Name == nil || req.Country == nil {
		BadRequest(c, "name and country are required")
		return
	}
	updates, err := req.updates()
	if err != nil {
		BadRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	name, country := updates["name"].(string), updates["country"].(string)
	var count int64
	if err := h.db.WithContext(ctx).Model(&database.Destination{}).
		Where("LOWER(name) = ? AND LOWER(country) = ?", strings.ToLower(name), strings.ToLower(country)).
		Count(&count).Error; err != nil {
		InternalError(c, "failed to check destination", err)
		return
	}
	if count > 0 {
		Conflict(c, "destination already exists")
		return
	}

	d := database.Destination{Name: name, Country: country, Status: database.DestinationDraft}
	if err := h.db.WithContext(ctx).Create(&d).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			Conflict(c, "destination already exists")
			return
		}
		InternalError(c, "failed to create destination", err)
		return
	}
	delete(updates, "name")
	delete(updates, "country")
	if len(updates) > 0 {
		if err := h.db.WithContext(ctx).Model(&d).Updates(updates).Error; err != nil {
			InternalError(c, "failed to create destination", err)
			return
		}
		if err := h.db.WithContext(ctx).First(&d, d.ID).Error; err != nil {
			InternalError(c, "failed to reload destination", err)
			return
		}
	}

	metrics.ObserveModeration("destination", "create")
	c.JSON(http.StatusCreated, gin.H{"destination": newDestinationResponse(d, resolveImageURL(ctx, h.images, d, h.defaultImage, h.logger))})
}

// UpdateDestination applies a partial update to a curated destination.
func (h *AdminHandler) UpdateDestination(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		BadRequest(c, "invalid destination id")
		return
	}
	var req destinationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		BadRequest(c, err.Error())
		return
	}
	updates, err := req.updates()
	if err != nil {
		BadRequest(c, err.Error())
		return
	}
	if len(updates) == 0 {
		BadRequest(c, errNoFields.Error())
		return
	}

	var d database.Destination
	if !h.updateByID(c, &d, id, updates, "destination") {
		return
	}
	metrics.ObserveModeration("destination", "update")
	c.JSON(http.StatusOK, gin.H{"destination": newDestinationResponse(d, resolveImageURL(c.Request.Context(), h.images, d, h.defaultImage, h.logger))})
}

// DeleteDestination removes a destination, its previews and its uploaded images.
func (h *AdminHandler) DeleteDestination(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		BadRequest(c, "invalid destination id")
		return
	}

	ctx := c.Request.Context()
	err = h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var d database.Destination
		if err := tx.Unscoped().First(&d, id).Error; err != nil {
			return err
		}
		if err := tx.Unscoped().Where("destination_id = ?", id).Delete(&database.Accommodation{}).Error; err != nil {
			return err
		}
		if err := tx.Unscoped().Where("destination_id = ?", id).Delete(&database.CourseExchange{}).Error; err != nil {
			return err
		}
		return tx.Unscoped().Delete(&d).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "destination not found")
			return
		}
		InternalError(c, "failed to delete destination", err)
		return
	}

	if h.images != nil {
		if err := h.images.DeletePrefix(ctx, destinationImagePrefix(id)); err != nil {
			loggerFromContext(c, h.logger).Warn("delete destination images failed",
				slog.Uint64("destination_id", uint64(id)),
				slog.Any("error", err),
			)
		}
	}

	metrics.ObserveModeration("destination", "delete")
	c.JSON(http.StatusOK, gin.H{"message": "destination deleted"})
}

// UploadDestinationImage stores a png, jpeg or webp image of at most 5 MiB in object
// storage and points the destination at it.
func (h *AdminHandler) UploadDestinationImage(c *gin.Context) {
	id, err := parseIDParam(c, "id")
	if err != nil {
		BadRequest(c, "invalid destination id")
		return
	}
	if h.images == nil {
		Unavailable(c, "image storage is not configured")
		return
	}

	ctx := c.Request.Context()
	logger := loggerFromContext(c, h.logger).With(slog.Uint64("destination_id", uint64(id)))

	var d database.Destination
	if err := h.db.WithContext(ctx).First(&d, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			NotFound(c, "destination not found")
			return
		}
		InternalError(c, "failed to load destination", err)
		return
	}

	file, err := c.FormFile("image")
	if err != nil {
		BadRequest(c, "missing image file")
		return
	}
	if file.Size <= 0 || file.Size > maxDestinationImageBytes {
		BadRequest(c, "image must be between 1 byte and 5 MiB")
		return
	}

	reader, err := file.Open()
	if err != nil {
		InternalError(c, "failed to open image", err)
		return
	}
	content, err := io.ReadAll(io.LimitReader(reader, maxDestinationImageBytes+1))
	reader.Close()
	if err != nil {
		InternalError(c, "failed to read image", err)
		return
	}

	// Trust the bytes, not the client's Content-Type header.
	contentType := http.DetectContentType(content)
	ext, ok := destinationImageTypes[contentType]
	if !ok {
		BadRequest(c, "image must be png, jpeg or webp")
		return
	}

	if h.scanner != nil {
		if err := h.scanner.Scan(bytes.NewReader(content)); err != nil {
			if errors.Is(err, storage.ErrInfected) {
				logger.Warn("infected destination image rejected")
				BadRequest(c, err.Error())
				return
			}
			logger.Error("scan destination image failed", slog.Any("error", err))
			InternalError(c, "failed to scan image", err)
			return
		}
	}

	objectKey := fmt.Sprintf("%s%s.%s", destinationImagePrefix(d.ID), uuid.NewString(), ext)
	if err := h.images.UploadFile(ctx, objectKey, bytes.NewReader(content), int64(len(content)), contentType); err != nil {
		logger.Error("upload destination image failed", slog.Any("error", err))
		InternalError(c, "failed to upload image", err)
		return
	}

	previousKey := d.ImageKey
	if err := h.db.WithContext(ctx).Model(&d).Update("image_key", objectKey).Error; err != nil {
		_ = h.images.DeleteObject(ctx, objectKey)
		InternalError(c, "failed to save image", err)
		return
	}
	d.ImageKey = objectKey
	if previousKey != "" && previousKey != objectKey {
		if err := h.images.DeleteObject(ctx, previousKey); err != nil {
			logger.Warn("delete previous destination image failed", slog.Any("error", err))
		}
	}

	metrics.ObserveModeration("destination", "image")
	c.JSON(http.StatusCreated, gin.H{
		"objectKey":   objectKey,
		"destination": newDestinationResponse(d, resolveImageURL(ctx, h.images, d, h.defaultImage, h.logger)),
	})
}

type refreshRequestBody struct {
	City    string `json:"city"`
	Country string `json:"country"`
}

// RefreshDestinations asks the worker to recompute denormalized destination statistics.
func (h *AdminHandler) RefreshDestinations(c *gin.Context) {
	var req refreshRequestBody
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			BadRequest(c, err.Error())
			return
		}
	}
	if (req.City == "") != (req.Country == "") {
		BadRequest(c, "city and country must be given together")
		return
	}
	if h.queue == nil {
		Unavailable(c, "task queue is not configured")
		return
	}

	task, err := tasks.NewDestinationRefreshTask(strings.TrimSpace(req.City), strings.TrimSpace(req.Country), middleware.GetCorrelationID(c))
	if err != nil {
		InternalError(c, "failed to build refresh task", err)
		return
	}
	info, err := h.queue.EnqueueContext(c.Request.Context(), task)
	if err != nil {
		loggerFromContext(c, h.logger).Error("enqueue refresh failed", slog.Any("error", err))
		InternalError(c, "failed to enqueue refresh", err)
		return
	}

	metrics.ObserveModeration("destination", "refresh")
	c.JSON(http.StatusAccepted, gin.H{"taskId": info.ID})
}

func destinationImagePrefix(id uint) string {
	return fmt.Sprintf("destination-images/%d/", id)
}
