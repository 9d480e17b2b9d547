package authkit

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	sqliteDialector "github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

var (
	// ErrUnsupportedDialect indicates that no GORM dialector is available for the scheme.
	ErrUnsupportedDialect = errors.New("identity_store.unsupported_dialect")

	errEmptyDatabaseURL    = errors.New("identity_store.empty_database_url")
	errEmptyIdentityEmail  = errors.New("identity_store.empty_email")
	errSQLiteEmptyPath     = errors.New("identity_store.sqlite.empty_path")
	errSQLiteInvalidURL    = errors.New("identity_store.sqlite.invalid_url")
	errUnsupportedNoScheme = errors.New("identity_store.unsupported_no_scheme")
)

// DatabaseIdentityStore persists identities using GORM, resolving sqlite://
// and postgres:// URLs to the matching dialector.
type DatabaseIdentityStore struct {
	db          *gorm.DB
	driverLabel string
}

// Driver exposes the selected database driver label.
func (store *DatabaseIdentityStore) Driver() string {
	return store.driverLabel
}

type identityRecord struct {
	Email       string `gorm:"column:email;primaryKey"`
	DisplayName string `gorm:"column:display_name;not null;default:''"`
	AvatarURL   string `gorm:"column:avatar_url;not null;default:''"`
	Role        string `gorm:"column:role;not null;default:'GUEST'"`
}

func (identityRecord) TableName() string {
	return "identities"
}

// NewDatabaseIdentityStore constructs a GORM-backed store and migrates the schema.
func NewDatabaseIdentityStore(ctx context.Context, databaseURL string) (*DatabaseIdentityStore, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("identity_store.open: %w", errEmptyDatabaseURL)
	}
	dialector, driverLabel, err := resolveDialector(databaseURL)
	if err != nil {
		return nil, err
	}
	gormDB, openErr := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if openErr != nil {
		return nil, fmt.Errorf("identity_store.open.%s: %w", driverLabel, openErr)
	}
	if migrateErr := gormDB.WithContext(ctx).AutoMigrate(&identityRecord{}); migrateErr != nil {
		return nil, fmt.Errorf("identity_store.migrate.%s: %w", driverLabel, migrateErr)
	}
	return &DatabaseIdentityStore{
		db:          gormDB,
		driverLabel: driverLabel,
	}, nil
}

// FindByEmail returns the identity stored under the email key.
func (store *DatabaseIdentityStore) FindByEmail(ctx context.Context, email string) (Identity, error) {
	if strings.TrimSpace(email) == "" {
		return Identity{}, fmt.Errorf("identity_store.find.%s: %w", store.driverLabel, errEmptyIdentityEmail)
	}
	var record identityRecord
	err := store.db.WithContext(ctx).Where("email = ?", email).Take(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Identity{}, ErrIdentityNotFound
		}
		return Identity{}, fmt.Errorf("identity_store.find.%s: %w", store.driverLabel, err)
	}
	return identityFromRecord(record), nil
}

// Upsert inserts a new identity, or refreshes display name and avatar for an
// existing email while preserving the stored role.
func (store *DatabaseIdentityStore) Upsert(ctx context.Context, identity Identity) (Identity, error) {
	if strings.TrimSpace(identity.Email) == "" {
		return Identity{}, fmt.Errorf("identity_store.upsert.%s: %w", store.driverLabel, errEmptyIdentityEmail)
	}
	record := identityRecord{
		Email:       identity.Email,
		DisplayName: identity.DisplayName,
		AvatarURL:   identity.AvatarURL,
		Role:        string(identity.Role),
	}
	err := store.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "email"}},
		DoUpdates: clause.AssignmentColumns([]string{"display_name", "avatar_url"}),
	}).Create(&record).Error
	if err != nil {
		return Identity{}, fmt.Errorf("identity_store.upsert.%s: %w", store.driverLabel, err)
	}
	return store.FindByEmail(ctx, identity.Email)
}

func identityFromRecord(record identityRecord) Identity {
	return Identity{
		Email:       record.Email,
		DisplayName: record.DisplayName,
		AvatarURL:   record.AvatarURL,
		Role:        ParseRole(record.Role),
	}
}

func resolveDialector(databaseURL string) (gorm.Dialector, string, error) {
	parsed, err := url.Parse(databaseURL)
	if err != nil {
		return nil, "", fmt.Errorf("identity_store.parse_url: %w", err)
	}
	if parsed.Scheme == "" {
		return nil, "", fmt.Errorf("identity_store.dialect: %w", errUnsupportedNoScheme)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "postgres", "postgresql":
		return postgres.Open(databaseURL), "postgres", nil
	case "sqlite", "sqlite3":
		dsn, dsnErr := buildSQLiteDSN(parsed)
		if dsnErr != nil {
			return nil, "", fmt.Errorf("identity_store.sqlite: %w", dsnErr)
		}
		return sqliteDialector.Open(dsn), "sqlite", nil
	default:
		return nil, "", fmt.Errorf("identity_store.dialect.%s: %w", strings.ToLower(parsed.Scheme), ErrUnsupportedDialect)
	}
}

func buildSQLiteDSN(parsed *url.URL) (string, error) {
	if parsed == nil {
		return "", errSQLiteInvalidURL
	}
	var builder strings.Builder
	switch {
	case parsed.Opaque != "":
		builder.WriteString(parsed.Opaque)
	case parsed.Host != "":
		builder.WriteString(parsed.Host)
		if parsed.Path != "" {
			if !strings.HasPrefix(parsed.Path, "/") {
				builder.WriteString("/")
			}
			builder.WriteString(parsed.Path)
		}
	default:
		builder.WriteString(parsed.Path)
	}
	if builder.Len() == 0 {
		return "", errSQLiteEmptyPath
	}
	if parsed.RawQuery != "" {
		builder.WriteString("?")
		builder.WriteString(parsed.RawQuery)
	}
	return builder.String(), nil
}
