package services

import (
	"context"
	"fmt"
	"testing"

	"rpg-portal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// newTestDB returns an isolated in-memory database with every table migrated.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Discard,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(models.All()...))
	return db
}

func seedUser(t *testing.T, db *gorm.DB, u models.User) models.User {
	t.Helper()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Plan == "" {
		u.Plan = PlanGratis
	}
	require.NoError(t, db.Create(&u).Error)
	return u
}

func sessionFor(policy *AccessPolicy, u models.User) *Session {
	user := u
	return &Session{
		Principal:   Principal{UID: u.ID, Email: u.Email, DisplayName: u.DisplayName},
		User:        &user,
		Permissions: policy.Resolve(&user, u.Email),
	}
}

var bg = context.Background()
