package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"erasmusjourney/internal/auth"
	"erasmusjourney/internal/config"
	"erasmusjourney/internal/database"
	"erasmusjourney/internal/testutil"
)

const testAdminEmail = "coordinator@erasmus-journey.eu"

var (
	keysOnce   sync.Once
	privatePEM []byte
	publicPEM  []byte
	keysErr    error
)

func testKeys(t *testing.T) ([]byte, []byte) {
	t.Helper()
	keysOnce.Do(func() {
		privatePEM, publicPEM, keysErr = auth.GenerateKeyPairPEM(2048)
	})
	if keysErr != nil {
		t.Fatalf("generate keys: %v", keysErr)
	}
	return privatePEM, publicPEM
}

type fakeStore struct {
	mu       sync.Mutex
	uploaded map[string][]byte
	deleted  []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{uploaded: map[string][]byte{}}
}

func (s *fakeStore) UploadFile(_ context.Context, objectName string, reader io.Reader, _ int64, _ string) error {
	b, _ := io.ReadAll(reader)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploaded[objectName] = b
	return nil
}

func (s *fakeStore) GeneratePresignedURL(_ context.Context, objectKey string, _ time.Duration) (string, error) {
	return "https://media.example.invalid/" + objectKey, nil
}

func (s *fakeStore) DeleteObject(_ context.Context, objectKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, objectKey)
	delete(s.uploaded, objectKey)
	return nil
}

func (s *fakeStore) DeletePrefix(_ context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, prefix)
	return nil
}

type fakeQueue struct {
	mu    sync.Mutex
	tasks []*asynq.Task
}

func (q *fakeQueue) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, task)
	return &asynq.TaskInfo{ID: "task-1", Type: task.Type()}, nil
}

func (q *fakeQueue) types() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, 0, len(q.tasks))
	for _, task := range q.tasks {
		out = append(out, task.Type())
	}
	return out
}

type fakeScanner struct {
	err error
}

func (s fakeScanner) Scan(r io.Reader) error {
	_, _ = io.Copy(io.Discard, r)
	return s.err
}

type testEnv struct {
	router  *gin.Engine
	db      *gorm.DB
	redis   *redis.Client
	mr      *miniredis.Miniredis
	auth    *auth.AuthService
	fx      *testutil.Fixtures
	store   *fakeStore
	queue   *fakeQueue
	scanner *fakeScanner
}

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Env: config.EnvDevelopment, DefaultDestinationImage: "/images/default.jpg"},
		Auth: config.AuthConfig{
			AccessTokenTTL:        15 * time.Minute,
			RefreshTokenTTL:       time.Hour,
			LoginRateLimitPerHour: 20,
			LoginLockThreshold:    5,
			LoginLockTTL:          15 * time.Minute,
			AdminEmails:           []string{testAdminEmail},
			UniversityDomains:     config.DefaultUniversityDomains,
		},
		Cache: config.CacheConfig{CostsTTL: time.Minute},
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := testConfig()
	db := testutil.NewDB(t)
	redisClient, mr := testutil.NewRedis(t)
	priv, pub := testKeys(t)
	authService, err := auth.NewAuthService(priv, pub, cfg.Auth.AccessTokenTTL, cfg.Auth.RefreshTokenTTL)
	if err != nil {
		t.Fatalf("auth service: %v", err)
	}

	env := &testEnv{
		db:      db,
		redis:   redisClient,
		mr:      mr,
		auth:    authService,
		fx:      testutil.NewFixtures(t, db),
		store:   newFakeStore(),
		queue:   &fakeQueue{},
		scanner: &fakeScanner{},
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	env.router = NewRouter(cfg, logger)
	RegisterRoutes(env.router, Dependencies{
		Config:      cfg,
		DB:          db,
		Redis:       redisClient,
		AuthService: authService,
		Gate:        auth.NewEmailGate(cfg.Auth.AdminEmails, cfg.Auth.UniversityDomains),
		Queue:       env.queue,
		Images:      env.store,
		Scanner:     env.scanner,
		Logger:      logger,
	})
	return env
}

func (e *testEnv) token(t *testing.T, user database.User) string {
	t.Helper()
	pair, err := e.auth.GenerateTokenPair(user.ID, user.Role, user.MustChangePassword)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	return pair.AccessToken
}

func (e *testEnv) do(t *testing.T, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body %q: %v", w.Body.String(), err)
	}
	return out
}

func expectStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("expected status %d, got %d: %s", want, w.Code, w.Body.String())
	}
}

