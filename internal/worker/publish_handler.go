package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hibiken/asynq"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"erasmusjourney/internal/aggregate"
	"erasmusjourney/internal/database"
	"erasmusjourney/internal/forms"
	"erasmusjourney/internal/notify"
	"erasmusjourney/internal/tasks"
)

// Notifier delivers a message to one user's live connections.
type Notifier interface {
	Publish(ctx context.Context, userID uint, msg notify.Message) error
}

// PublishTaskHandler turns a published submission into its destination preview.
type PublishTaskHandler struct {
	db        *gorm.DB
	stats     *aggregate.Service
	refresher *Refresher
	notifier  Notifier
	logger    *slog.Logger
}

// NewPublishTaskHandler constructs a PublishTaskHandler. notifier may be nil.
func NewPublishTaskHandler(db *gorm.DB, stats *aggregate.Service, refresher *Refresher, notifier Notifier, logger *slog.Logger) *PublishTaskHandler {
	return &PublishTaskHandler{
		db:        db,
		stats:     stats,
		refresher: refresher,
		notifier:  notifier,
		logger:    logger,
	}
}

// ProcessTask implements asynq.Handler.
func (h *PublishTaskHandler) ProcessTask(ctx context.Context, t *asynq.Task) (retErr error) {
	payload, err := tasks.ParseSubmissionPublished(t)
	if err != nil {
		h.logger.Error("unmarshal publish payload failed", slog.Any("error", err))
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	log := h.logger.With(
		slog.String("correlation_id", payload.CorrelationID),
		slog.Uint64("submission_id", uint64(payload.SubmissionID)),
	)

	var submission database.FormSubmission
	if err := h.db.WithContext(ctx).First(&submission, payload.SubmissionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warn("submission not found, skipping task")
			return nil
		}
		log.Error("query submission failed", slog.Any("error", err))
		return err
	}
	// Unpublished again before the worker got to it.
	if submission.Status != string(forms.StatusPublished) {
		log.Info("submission no longer published, skipping task", slog.String("status", submission.Status))
		return nil
	}

	log = log.With(slog.Uint64("user_id", uint64(submission.UserID)), slog.String("form_type", submission.Type))

	defer func() {
		if retErr == nil || !isFinalAsynqAttempt(ctx) {
			return
		}
		h.notify(ctx, log, submission.UserID, notify.Message{
			Event:         notify.EventPublishFailed,
			SubmissionID:  submission.ID,
			CorrelationID: payload.CorrelationID,
			Message:       strings.TrimSpace(retErr.Error()),
		})
	}()

	city, country, basic, err := h.stats.LocationOf(ctx, submission)
	if err != nil {
		log.Error("resolve submission location failed", slog.Any("error", err))
		return err
	}
	if city == "" || country == "" {
		log.Warn("submission has no host city, nothing to materialise")
		return nil
	}
	log = log.With(slog.String("city", city), slog.String("country", country))

	dest, err := h.ensureDestination(ctx, city, country)
	if err != nil {
		log.Error("ensure destination failed", slog.Any("error", err))
		return err
	}

	data, err := forms.Decode(submission.Data)
	if err != nil {
		log.Error("decode submission data failed", slog.Any("error", err))
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}

	switch forms.Type(submission.Type) {
	case forms.TypeAccommodation:
		err = h.upsertAccommodation(ctx, dest.ID, submission.ID, data)
	case forms.TypeCourseMatching:
		var basicData map[string]any
		if basic != nil {
			basicData, _ = forms.Decode(basic.Data)
		}
		err = h.upsertCourseExchange(ctx, dest.ID, submission.ID, data, basicData)
	}
	if err != nil {
		log.Error("materialise preview failed", slog.Any("error", err))
		return err
	}

	if _, err := h.refresher.Refresh(ctx, city, country); err != nil {
		log.Error("refresh destination failed", slog.Any("error", err))
		return err
	}

	h.notify(ctx, log, submission.UserID, notify.Message{
		Event:         notify.EventSubmissionPublished,
		SubmissionID:  submission.ID,
		DestinationID: dest.ID,
		City:          dest.Name,
		Country:       dest.Country,
		CorrelationID: payload.CorrelationID,
	})
	log.Info("published submission materialised", slog.Uint64("destination_id", uint64(dest.ID)))
	return nil
}

// ensureDestination finds the (city, country) destination case-insensitively or
// creates it as a DRAFT for an admin to curate.
func (h *PublishTaskHandler) ensureDestination(ctx context.Context, city, country string) (database.Destination, error) {
	find := func() (database.Destination, error) {
		var d database.Destination
		err := h.db.WithContext(ctx).
			Where("LOWER(name) = ? AND LOWER(country) = ?", strings.ToLower(city), strings.ToLower(country)).
			Limit(1).Find(&d).Error
		return d, err
	}

	d, err := find()
	if err != nil || d.ID != 0 {
		return d, err
	}

	d = database.Destination{Name: city, Country: country, Status: database.DestinationDraft}
	if err := h.db.WithContext(ctx).Create(&d).Error; err != nil {
		// Another task may have created it concurrently.
		existing, findErr := find()
		if findErr == nil && existing.ID != 0 {
			return existing, nil
		}
		return database.Destination{}, fmt.Errorf("create destination: %w", err)
	}
	return d, nil
}

func (h *PublishTaskHandler) upsertAccommodation(ctx context.Context, destinationID, submissionID uint, data map[string]any) error {
	row := database.Accommodation{
		DestinationID:        destinationID,
		SubmissionID:         submissionID,
		AccommodationType:    forms.String(data, forms.FieldAccommodationTy),
		BookingPlatform:      forms.String(data, forms.FieldBookingPlatform),
		Neighborhood:         forms.String(data, forms.FieldNeighborhood),
		MonthlyRent:          forms.Number(data, forms.FieldMonthlyRent),
		DistanceToUniversity: forms.Number(data, forms.FieldDistance),
		Rating:               forms.Number(data, forms.FieldAccomRating),
		Description:          forms.String(data, forms.FieldDescription),
		Visible:              true,
	}
	// Moderation flags survive a re-publish.
	return h.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "submission_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"updated_at", "destination_id", "accommodation_type", "booking_platform",
			"neighborhood", "monthly_rent", "distance_to_university", "rating", "description",
		}),
	}).Create(&row).Error
}

func (h *PublishTaskHandler) upsertCourseExchange(ctx context.Context, destinationID, submissionID uint, data, basic map[string]any) error {
	pick := func(key string) string {
		if v := forms.String(data, key); v != "" {
			return v
		}
		return forms.String(basic, key)
	}

	row := database.CourseExchange{
		DestinationID:   destinationID,
		SubmissionID:    submissionID,
		HostUniversity:  pick(forms.FieldHostUniversity),
		Department:      pick(forms.FieldDepartment),
		StudyLevel:      pick(forms.FieldLevelOfStudy),
		HostCourseCount: int(forms.Number(data, forms.FieldHostCourseCount)),
		HomeCourseCount: int(forms.Number(data, forms.FieldHomeCourseCount)),
		ECTSCredits:     forms.Number(data, forms.FieldECTSCredits),
		Difficulty:      forms.Number(data, forms.FieldDifficulty),
		Visible:         true,
	}
	if courses, ok := data[forms.FieldCourses]; ok && courses != nil {
		raw, err := json.Marshal(courses)
		if err != nil {
			return fmt.Errorf("encode courses: %w", err)
		}
		row.Courses = datatypes.JSON(raw)
	}

	return h.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "submission_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"updated_at", "destination_id", "host_university", "department", "study_level",
			"host_course_count", "home_course_count", "ects_credits", "difficulty", "courses",
		}),
	}).Create(&row).Error
}

func (h *PublishTaskHandler) notify(ctx context.Context, log *slog.Logger, userID uint, msg notify.Message) {
	if h.notifier == nil {
		return
	}
	if err := h.notifier.Publish(ctx, userID, msg); err != nil {
		log.Warn("publish notification failed", slog.String("event", msg.Event), slog.Any("error", err))
	}
}

func isFinalAsynqAttempt(ctx context.Context) bool {
	retryCount, ok1 := asynq.GetRetryCount(ctx)
	maxRetry, ok2 := asynq.GetMaxRetry(ctx)
	if !ok1 || !ok2 {
		return false
	}
	return retryCount >= maxRetry
}
