package main

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gorm.io/gorm"

	"erasmusjourney/internal/auth"
	"erasmusjourney/internal/config"
	"erasmusjourney/internal/database"
)

func main() {
	var (
		email     = flag.String("email", "", "admin email to create or promote")
		firstName = flag.String("first-name", "Platform", "first name for a new account")
		lastName  = flag.String("last-name", "Admin", "last name for a new account")
		keygenDir = flag.String("keygen", "", "write a new JWT RSA key pair into this directory and exit")
		keyBits   = flag.Int("key-bits", 2048, "RSA key size for -keygen")
		dbHost    = flag.String("db-host", "", "database host (default DATABASE_HOST)")
		dbPort    = flag.Int("db-port", 0, "database port (default DATABASE_PORT)")
		dbName    = flag.String("db-name", "", "database name (default POSTGRES_DB)")
		dbUser    = flag.String("db-user", "", "database user (default POSTGRES_USER)")
		dbPass    = flag.String("db-password", "", "database password (default POSTGRES_PASSWORD)")
		sslMode   = flag.String("db-sslmode", "", "database sslmode (default DATABASE_SSLMODE)")
	)
	flag.Parse()

	if dir := strings.TrimSpace(*keygenDir); dir != "" {
		if err := writeKeyPair(dir, *keyBits); err != nil {
			log.Fatalf("generate key pair: %v", err)
		}
		return
	}

	addr := auth.NormalizeEmail(*email)
	if addr == "" {
		log.Fatal("missing required flag: --email")
	}

	dbCfg, err := loadDatabaseConfig(*dbHost, *dbPort, *dbName, *dbUser, *dbPass, *sslMode)
	if err != nil {
		log.Fatalf("load database config: %v", err)
	}

	db, err := database.InitDatabase(dbCfg, false)
	if err != nil {
		log.Fatalf("init database: %v", err)
	}
	defer func() { _ = database.Close(db) }()

	if err := database.Migrate(db); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	var existing database.User
	switch err := db.Where("LOWER(email) = ?", addr).First(&existing).Error; {
	case err == nil:
		if existing.Role == database.RoleAdmin {
			fmt.Printf("%s is already an admin, nothing to do.\n", existing.Email)
			return
		}
		if err := db.Model(&existing).Update("role", database.RoleAdmin).Error; err != nil {
			log.Fatalf("promote user: %v", err)
		}
		fmt.Printf("Promoted %s to admin. Their password is unchanged.\n", existing.Email)
		return
	case errors.Is(err, gorm.ErrRecordNotFound):
	default:
		log.Fatalf("query user: %v", err)
	}

	password, err := generateRandomPassword(24)
	if err != nil {
		log.Fatalf("generate password: %v", err)
	}

	hashed, err := auth.HashPassword(password)
	if err != nil {
		log.Fatalf("hash password: %v", err)
	}

	user := database.User{
		Email:              addr,
		FirstName:          strings.TrimSpace(*firstName),
		LastName:           strings.TrimSpace(*lastName),
		PasswordHash:       hashed,
		Role:               database.RoleAdmin,
		MustChangePassword: true,
	}
	if err := db.Create(&user).Error; err != nil {
		log.Fatalf("create user: %v", err)
	}

	fmt.Printf("Created admin account (password change required on first login):\n")
	fmt.Printf("Email: %s\n", addr)
	fmt.Printf("Initial password: %s\n", password)
	fmt.Printf("This password is shown only once.\n")
}

func writeKeyPair(dir string, bits int) error {
	privatePEM, publicPEM, err := auth.GenerateKeyPairPEM(bits)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create key directory: %w", err)
	}
	privatePath := filepath.Join(dir, "jwt_private.pem")
	publicPath := filepath.Join(dir, "jwt_public.pem")
	for _, path := range []string{privatePath, publicPath} {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
	}
	if err := os.WriteFile(privatePath, privatePEM, 0o600); err != nil {
		return fmt.Errorf("write private key: %w", err)
	}
	if err := os.WriteFile(publicPath, publicPEM, 0o644); err != nil {
		return fmt.Errorf("write public key: %w", err)
	}
	fmt.Printf("Wrote %s and %s\n", privatePath, publicPath)
	return nil
}

func loadDatabaseConfig(host string, port int, name, user, password, sslmode string) (config.DatabaseConfig, error) {
	if strings.TrimSpace(host) == "" {
		host = os.Getenv("DATABASE_HOST")
	}
	if port <= 0 {
		if env := strings.TrimSpace(os.Getenv("DATABASE_PORT")); env != "" {
			p, err := strconv.Atoi(env)
			if err != nil {
				return config.DatabaseConfig{}, fmt.Errorf("parse DATABASE_PORT: %w", err)
			}
			port = p
		}
	}
	if strings.TrimSpace(name) == "" {
		name = os.Getenv("POSTGRES_DB")
	}
	if strings.TrimSpace(user) == "" {
		user = os.Getenv("POSTGRES_USER")
	}
	if strings.TrimSpace(password) == "" {
		password = os.Getenv("POSTGRES_PASSWORD")
	}
	if strings.TrimSpace(sslmode) == "" {
		sslmode = os.Getenv("DATABASE_SSLMODE")
	}

	if strings.TrimSpace(host) == "" {
		host = "localhost"
	}
	if port <= 0 {
		port = 5432
	}
	if strings.TrimSpace(sslmode) == "" {
		sslmode = "disable"
	}
	if strings.TrimSpace(name) == "" {
		return config.DatabaseConfig{}, errors.New("database name is required (POSTGRES_DB)")
	}
	if strings.TrimSpace(user) == "" {
		return config.DatabaseConfig{}, errors.New("database user is required (POSTGRES_USER)")
	}
	if strings.TrimSpace(password) == "" {
		return config.DatabaseConfig{}, errors.New("database password is required (POSTGRES_PASSWORD)")
	}

	return config.DatabaseConfig{
		Host:     host,
		Port:     port,
		Name:     name,
		User:     user,
		Password: password,
		SSLMode:  sslmode,
	}, nil
}

func generateRandomPassword(bytesLen int) (string, error) {
	if bytesLen <= 0 {
		bytesLen = 24
	}
	buf := make([]byte, bytesLen)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
