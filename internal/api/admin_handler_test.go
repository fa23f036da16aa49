package api

import (
	"bytes"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"erasmusjourney/internal/database"
	"erasmusjourney/internal/storage"
	"erasmusjourney/internal/tasks"
)

func createCourseExchange(t *testing.T, env *testEnv, destinationID, submissionID uint) database.CourseExchange {
	t.Helper()
	row := database.CourseExchange{
		DestinationID:   destinationID,
		SubmissionID:    submissionID,
		HostUniversity:  "Universitat de Barcelona",
		HostCourseCount: 4,
		Visible:         true,
	}
	if err := env.db.Create(&row).Error; err != nil {
		t.Fatalf("create course exchange: %v", err)
	}
	return row
}

func TestAdmin_RejectsStudents(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, env.fx.CreateUser("student@ucy.ac.cy"))

	expectStatus(t, env.do(t, http.MethodGet, "/api/admin/submissions", nil, token), http.StatusForbidden)
	expectStatus(t, env.do(t, http.MethodGet, "/api/admin/submissions", nil, ""), http.StatusUnauthorized)
}

func TestAdmin_CourseExchangePatchIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	admin := env.fx.CreateAdmin(testAdminEmail)
	token := env.token(t, admin)
	dest := env.fx.CreateDestination("Barcelona", "Spain", database.DestinationPublished, false)
	row := createCourseExchange(t, env, dest.ID, 42)

	path := fmt.Sprintf("/api/admin/course-exchanges/%d", row.ID)
	body := map[string]any{"featured": true, "visible": false, "adminNotes": "<i>checked</i>"}

	var responses []map[string]any
	for i := 0; i < 2; i++ {
		w := env.do(t, http.MethodPatch, path, body, token)
		expectStatus(t, w, http.StatusOK)
		responses = append(responses, decodeBody(t, w)["courseExchange"].(map[string]any))
	}
	for _, got := range responses {
		if got["featured"] != true || got["visible"] != false || got["adminNotes"] != "checked" {
			t.Fatalf("unexpected flags %v", got)
		}
	}

	var stored database.CourseExchange
	if err := env.db.First(&stored, row.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !stored.Featured || stored.Visible {
		t.Fatalf("flags not persisted: %+v", stored)
	}

	expectStatus(t, env.do(t, http.MethodPatch, path, map[string]any{}, token), http.StatusBadRequest)
	expectStatus(t, env.do(t, http.MethodPatch, "/api/admin/course-exchanges/999", body, token), http.StatusNotFound)
}

func TestAdmin_DeleteCourseExchange(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, env.fx.CreateAdmin(testAdminEmail))
	row := createCourseExchange(t, env, 1, 7)

	path := fmt.Sprintf("/api/admin/course-exchanges/%d", row.ID)
	expectStatus(t, env.do(t, http.MethodDelete, path, nil, token), http.StatusOK)
	expectStatus(t, env.do(t, http.MethodDelete, path, nil, token), http.StatusNotFound)

	var count int64
	env.db.Unscoped().Model(&database.CourseExchange{}).Count(&count)
	if count != 0 {
		t.Fatalf("expected hard delete, %d rows left", count)
	}
}

func TestAdmin_PublishingEnqueuesTask(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, env.fx.CreateAdmin(testAdminEmail))
	student := env.fx.CreateUser("pub@ucy.ac.cy")
	submission := env.fx.CreateSubmission(student.ID, "ACCOMMODATION", "SUBMITTED", map[string]any{"monthlyRent": 500})

	path := fmt.Sprintf("/api/admin/submissions/%d", submission.ID)
	w := env.do(t, http.MethodPatch, path, map[string]any{"status": "published", "adminNotes": "ok"}, token)
	expectStatus(t, w, http.StatusOK)
	got := decodeBody(t, w)["submission"].(map[string]any)
	if got["status"] != "PUBLISHED" || got["adminNotes"] != "ok" {
		t.Fatalf("unexpected submission %v", got)
	}
	if types := env.queue.types(); len(types) != 1 || types[0] != tasks.TypeSubmissionPublished {
		t.Fatalf("expected one publish task, got %v", types)
	}

	// Moving back to DRAFT is allowed and does not enqueue.
	expectStatus(t, env.do(t, http.MethodPatch, path, map[string]any{"status": "DRAFT"}, token), http.StatusOK)
	if types := env.queue.types(); len(types) != 1 {
		t.Fatalf("unexpected extra tasks %v", types)
	}

	expectStatus(t, env.do(t, http.MethodPatch, path, map[string]any{"status": "ARCHIVED"}, token), http.StatusBadRequest)
}

func TestAdmin_DeleteSubmissionDropsCachedCosts(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, env.fx.CreateAdmin(testAdminEmail))
	student := env.fx.CreateUser("gone@ucy.ac.cy")
	basic := env.fx.CreateSubmission(student.ID, "BASIC_INFO", "SUBMITTED", map[string]any{"hostCity": "Ghent", "hostCountry": "Belgium"})
	expenses := env.fx.CreateLinkedSubmission(student.ID, "LIVING_EXPENSES", "SUBMITTED", &basic.ID, map[string]any{"food": 200})
	for _, key := range []string{"costs:ghent:belgium", "costs:rome:italy"} {
		if err := env.mr.Set(key, "{}"); err != nil {
			t.Fatalf("seed cache: %v", err)
		}
	}

	expectStatus(t, env.do(t, http.MethodDelete, fmt.Sprintf("/api/admin/submissions/%d", expenses.ID), nil, token), http.StatusOK)
	if env.mr.Exists("costs:ghent:belgium") {
		t.Fatalf("expected Ghent costs to be dropped")
	}
	if !env.mr.Exists("costs:rome:italy") {
		t.Fatalf("deleting a linked follow-up only affects its own city")
	}

	expectStatus(t, env.do(t, http.MethodDelete, fmt.Sprintf("/api/admin/submissions/%d", basic.ID), nil, token), http.StatusOK)
	if env.mr.Exists("costs:rome:italy") {
		t.Fatalf("deleting a BASIC_INFO drops every cached city")
	}
}

func TestAdmin_DeleteBasicInfoKeepsFollowUps(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, env.fx.CreateAdmin(testAdminEmail))
	student := env.fx.CreateUser("parent@ucy.ac.cy")
	basic := env.fx.CreateSubmission(student.ID, "BASIC_INFO", "SUBMITTED", map[string]any{"hostCity": "Ghent", "hostCountry": "Belgium"})
	child := env.fx.CreateLinkedSubmission(student.ID, "ACCOMMODATION", "SUBMITTED", &basic.ID, map[string]any{"monthlyRent": 450})
	preview := createCourseExchange(t, env, 1, basic.ID)

	expectStatus(t, env.do(t, http.MethodDelete, fmt.Sprintf("/api/admin/submissions/%d", basic.ID), nil, token), http.StatusOK)

	var stored database.FormSubmission
	if err := env.db.First(&stored, child.ID).Error; err != nil {
		t.Fatalf("follow-up must survive: %v", err)
	}
	if stored.BasicInfoID != nil {
		t.Fatalf("expected follow-up reference cleared, got %d", *stored.BasicInfoID)
	}
	var count int64
	env.db.Unscoped().Model(&database.CourseExchange{}).Where("id = ?", preview.ID).Count(&count)
	if count != 0 {
		t.Fatalf("expected preview of deleted submission removed")
	}

	expectStatus(t, env.do(t, http.MethodDelete, fmt.Sprintf("/api/admin/submissions/%d", basic.ID), nil, token), http.StatusNotFound)
}

func TestAdmin_ListSubmissionsPaginates(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, env.fx.CreateAdmin(testAdminEmail))
	student := env.fx.CreateUser("many@ucy.ac.cy")
	for i := 0; i < 3; i++ {
		env.fx.CreateSubmission(student.ID, "EXPERIENCE", "SUBMITTED", map[string]any{})
	}
	env.fx.CreateSubmission(student.ID, "EXPERIENCE", "DRAFT", map[string]any{})

	w := env.do(t, http.MethodGet, "/api/admin/submissions?status=SUBMITTED&limit=2", nil, token)
	expectStatus(t, w, http.StatusOK)
	body := decodeBody(t, w)
	if body["total"] != 3.0 || len(body["submissions"].([]any)) != 2 || body["hasNext"] != true {
		t.Fatalf("unexpected page %v", body)
	}
}

func TestAdmin_UpdateUserRole(t *testing.T) {
	env := newTestEnv(t)
	admin := env.fx.CreateAdmin(testAdminEmail)
	token := env.token(t, admin)
	student := env.fx.CreateUser("promote@ucy.ac.cy")

	w := env.do(t, http.MethodPatch, fmt.Sprintf("/api/admin/users/%d/role", student.ID), map[string]any{"role": "admin"}, token)
	expectStatus(t, w, http.StatusOK)
	if got := decodeBody(t, w)["user"].(map[string]any)["role"]; got != database.RoleAdmin {
		t.Fatalf("expected promotion, got %v", got)
	}

	expectStatus(t, env.do(t, http.MethodPatch, fmt.Sprintf("/api/admin/users/%d/role", admin.ID), map[string]any{"role": "USER"}, token), http.StatusBadRequest)
	expectStatus(t, env.do(t, http.MethodPatch, "/api/admin/users/999/role", map[string]any{"role": "USER"}, token), http.StatusNotFound)
}

func TestAdmin_DestinationLifecycle(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, env.fx.CreateAdmin(testAdminEmail))

	w := env.do(t, http.MethodPost, "/api/admin/destinations", map[string]any{
		"name": "Krakow", "country": "Poland", "featured": true, "highlights": []string{"Old Town"},
	}, token)
	expectStatus(t, w, http.StatusCreated)
	created := decodeBody(t, w)["destination"].(map[string]any)
	if created["status"] != database.DestinationDraft || created["featured"] != true {
		t.Fatalf("unexpected destination %v", created)
	}
	id := uint(created["id"].(float64))

	expectStatus(t, env.do(t, http.MethodPost, "/api/admin/destinations", map[string]any{
		"name": "krakow", "country": "POLAND",
	}, token), http.StatusConflict)

	w = env.do(t, http.MethodPatch, fmt.Sprintf("/api/admin/destinations/%d", id), map[string]any{"status": "published"}, token)
	expectStatus(t, w, http.StatusOK)
	if got := decodeBody(t, w)["destination"].(map[string]any)["status"]; got != database.DestinationPublished {
		t.Fatalf("expected published, got %v", got)
	}

	expectStatus(t, env.do(t, http.MethodDelete, fmt.Sprintf("/api/admin/destinations/%d", id), nil, token), http.StatusOK)
	if len(env.store.deleted) != 1 || env.store.deleted[0] != destinationImagePrefix(id) {
		t.Fatalf("expected image prefix cleanup, got %v", env.store.deleted)
	}
	expectStatus(t, env.do(t, http.MethodDelete, fmt.Sprintf("/api/admin/destinations/%d", id), nil, token), http.StatusNotFound)
}

func TestAdmin_RefreshDestinations(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, env.fx.CreateAdmin(testAdminEmail))

	w := env.do(t, http.MethodPost, "/api/admin/destinations/refresh", map[string]any{"city": "Porto", "country": "Portugal"}, token)
	expectStatus(t, w, http.StatusAccepted)
	if decodeBody(t, w)["taskId"] != "task-1" {
		t.Fatalf("expected task id in %s", w.Body.String())
	}
	expectStatus(t, env.do(t, http.MethodPost, "/api/admin/destinations/refresh", map[string]any{"city": "Porto"}, token), http.StatusBadRequest)
	expectStatus(t, env.do(t, http.MethodPost, "/api/admin/destinations/refresh", nil, token), http.StatusAccepted)

	if types := env.queue.types(); len(types) != 2 || types[1] != tasks.TypeDestinationRefresh {
		t.Fatalf("unexpected tasks %v", types)
	}
}

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")

func uploadImage(t *testing.T, env *testEnv, id uint, token string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("image", "cover.png")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/api/admin/destinations/%d/image", id), &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	return w
}

func TestAdmin_UploadDestinationImage(t *testing.T) {
	env := newTestEnv(t)
	token := env.token(t, env.fx.CreateAdmin(testAdminEmail))
	dest := env.fx.CreateDestination("Nice", "France", database.DestinationPublished, false)

	w := uploadImage(t, env, dest.ID, token, pngHeader)
	expectStatus(t, w, http.StatusCreated)
	key := decodeBody(t, w)["objectKey"].(string)
	if !strings.HasPrefix(key, destinationImagePrefix(dest.ID)) || !strings.HasSuffix(key, ".png") {
		t.Fatalf("unexpected object key %q", key)
	}
	if _, ok := env.store.uploaded[key]; !ok {
		t.Fatalf("expected object %q to be uploaded", key)
	}
	var stored database.Destination
	if err := env.db.First(&stored, dest.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if stored.ImageKey != key {
		t.Fatalf("expected image key %q, got %q", key, stored.ImageKey)
	}

	expectStatus(t, uploadImage(t, env, dest.ID, token, []byte("%PDF-1.4 not an image")), http.StatusBadRequest)
	expectStatus(t, uploadImage(t, env, dest.ID, token, bytes.Repeat([]byte{0x89}, maxDestinationImageBytes+1)), http.StatusBadRequest)
	expectStatus(t, uploadImage(t, env, 999, token, pngHeader), http.StatusNotFound)

	env.scanner.err = fmt.Errorf("scan: %w", storage.ErrInfected)
	expectStatus(t, uploadImage(t, env, dest.ID, token, pngHeader), http.StatusBadRequest)
}
