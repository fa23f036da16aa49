package testutil

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"erasmusjourney/internal/database"
)

// NewDB opens an isolated in-memory SQLite database with every model migrated.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(uuid.NewString(), "-", ""))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent), TranslateError: true})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { _ = database.Close(db) })
	return db
}

// NewRedis starts a miniredis server and returns a client bound to it.
func NewRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	return client, mr
}

// Fixtures creates rows for handler and service tests.
type Fixtures struct {
	db *gorm.DB
	t  *testing.T
}

// NewFixtures binds fixtures to a test database.
func NewFixtures(t *testing.T, db *gorm.DB) *Fixtures {
	t.Helper()
	return &Fixtures{db: db, t: t}
}

// CreateUser inserts a student with the given email.
func (f *Fixtures) CreateUser(email string) database.User {
	f.t.Helper()
	return f.createUser(email, database.RoleUser)
}

// CreateAdmin inserts an administrator with the given email.
func (f *Fixtures) CreateAdmin(email string) database.User {
	f.t.Helper()
	return f.createUser(email, database.RoleAdmin)
}

func (f *Fixtures) createUser(email, role string) database.User {
	f.t.Helper()
	user := database.User{
		Email:        email,
		FirstName:    "Test",
		LastName:     "Student",
		PasswordHash: "not-a-real-hash",
		Role:         role,
	}
	if err := f.db.Create(&user).Error; err != nil {
		f.t.Fatalf("create user: %v", err)
	}
	return user
}

// CreateSubmission inserts a submission owned by userID with the given payload.
func (f *Fixtures) CreateSubmission(userID uint, formType, status string, data map[string]any) database.FormSubmission {
	f.t.Helper()
	return f.CreateLinkedSubmission(userID, formType, status, nil, data)
}

// CreateLinkedSubmission inserts a submission referencing a BASIC_INFO parent.
func (f *Fixtures) CreateLinkedSubmission(userID uint, formType, status string, basicInfoID *uint, data map[string]any) database.FormSubmission {
	f.t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		f.t.Fatalf("marshal submission data: %v", err)
	}
	submission := database.FormSubmission{
		UserID:      userID,
		Type:        formType,
		Title:       formType,
		Data:        datatypes.JSON(raw),
		Status:      status,
		BasicInfoID: basicInfoID,
	}
	if err := f.db.Create(&submission).Error; err != nil {
		f.t.Fatalf("create submission: %v", err)
	}
	return submission
}

// CreateDestination inserts a curated destination.
func (f *Fixtures) CreateDestination(name, country, status string, featured bool) database.Destination {
	f.t.Helper()
	dest := database.Destination{
		Name:     name,
		Country:  country,
		Status:   status,
		Featured: featured,
	}
	if err := f.db.Create(&dest).Error; err != nil {
		f.t.Fatalf("create destination: %v", err)
	}
	return dest
}

// CreateUniversity inserts a partner university.
func (f *Fixtures) CreateUniversity(name, shortName, kind, city, country string) database.University {
	f.t.Helper()
	uni := database.University{
		Name:      name,
		ShortName: shortName,
		Type:      kind,
		City:      city,
		Country:   country,
	}
	if err := f.db.Create(&uni).Error; err != nil {
		f.t.Fatalf("create university: %v", err)
	}
	return uni
}
