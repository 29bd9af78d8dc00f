package service

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/mivvo/expertiz/internal/notification/domain"
	"github.com/mivvo/expertiz/internal/notification/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type testUser struct {
	ID snowflake.ID `gorm:"primaryKey"`
}

func (testUser) TableName() string { return "users" }

func setupNotificationDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&domain.Notification{}, &testUser{}))
	return db
}

func newNotificationService(t *testing.T, db *gorm.DB) domain.Service {
	t.Helper()

	node, err := snowflake.NewNode(2)
	require.NoError(t, err)

	return New(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  repository.Provide(),
	})
}

func TestEmit_And_List(t *testing.T) {
	db := setupNotificationDB(t)
	svc := newNotificationService(t, db)
	ctx := context.Background()

	userID := snowflake.ID(2001)
	require.NoError(t, svc.Emit(ctx, domain.EmitRequest{
		UserID:  userID,
		Type:    domain.TypeSuccess,
		Title:   "Report ready",
		Message: "Your paint analysis report is ready to view.",
		Data:    map[string]any{"report_id": "42"},
	}))
	require.NoError(t, svc.Emit(ctx, domain.EmitRequest{
		UserID: userID,
		Type:   domain.TypeInfo,
		Title:  "Credits added",
	}))

	resp, err := svc.List(ctx, domain.ListRequest{UserID: userID})
	require.NoError(t, err)
	assert.Len(t, resp.Notifications, 2)
	assert.Equal(t, int64(2), resp.UnreadCount)
	assert.False(t, resp.PageInfo.HasMore)

	// Other users never see these
	other, err := svc.List(ctx, domain.ListRequest{UserID: snowflake.ID(2002)})
	require.NoError(t, err)
	assert.Empty(t, other.Notifications)
}

func TestEmit_RejectsInvalid(t *testing.T) {
	db := setupNotificationDB(t)
	svc := newNotificationService(t, db)
	ctx := context.Background()

	err := svc.Emit(ctx, domain.EmitRequest{UserID: 0, Type: domain.TypeInfo, Title: "x"})
	assert.ErrorIs(t, err, domain.ErrInvalidUser)

	err = svc.Emit(ctx, domain.EmitRequest{UserID: 1, Type: "bogus", Title: "x"})
	assert.ErrorIs(t, err, domain.ErrInvalidNotification)

	err = svc.Emit(ctx, domain.EmitRequest{UserID: 1, Type: domain.TypeInfo, Title: "   "})
	assert.ErrorIs(t, err, domain.ErrInvalidNotification)
}

func TestMarkRead_ScopedToOwner(t *testing.T) {
	db := setupNotificationDB(t)
	svc := newNotificationService(t, db)
	ctx := context.Background()

	userID := snowflake.ID(2003)
	require.NoError(t, svc.Emit(ctx, domain.EmitRequest{UserID: userID, Type: domain.TypeWarning, Title: "Report failed"}))

	resp, err := svc.List(ctx, domain.ListRequest{UserID: userID})
	require.NoError(t, err)
	require.Len(t, resp.Notifications, 1)
	id := resp.Notifications[0].ID

	// Another user cannot mark it read
	err = svc.MarkRead(ctx, snowflake.ID(9999), id)
	assert.ErrorIs(t, err, domain.ErrNotificationNotFound)

	require.NoError(t, svc.MarkRead(ctx, userID, id))

	resp, err = svc.List(ctx, domain.ListRequest{UserID: userID})
	require.NoError(t, err)
	assert.Zero(t, resp.UnreadCount)
	assert.True(t, resp.Notifications[0].Read)
}

func TestList_UnreadOnly(t *testing.T) {
	db := setupNotificationDB(t)
	svc := newNotificationService(t, db)
	ctx := context.Background()

	userID := snowflake.ID(2004)
	require.NoError(t, svc.Emit(ctx, domain.EmitRequest{UserID: userID, Type: domain.TypeInfo, Title: "first"}))
	require.NoError(t, svc.Emit(ctx, domain.EmitRequest{UserID: userID, Type: domain.TypeInfo, Title: "second"}))
	require.NoError(t, svc.MarkAllRead(ctx, userID))
	require.NoError(t, svc.Emit(ctx, domain.EmitRequest{UserID: userID, Type: domain.TypeInfo, Title: "third"}))

	resp, err := svc.List(ctx, domain.ListRequest{UserID: userID, UnreadOnly: true})
	require.NoError(t, err)
	require.Len(t, resp.Notifications, 1)
	assert.Equal(t, "third", resp.Notifications[0].Title)
}

func TestDelete(t *testing.T) {
	db := setupNotificationDB(t)
	svc := newNotificationService(t, db)
	ctx := context.Background()

	userID := snowflake.ID(2005)
	require.NoError(t, svc.Emit(ctx, domain.EmitRequest{UserID: userID, Type: domain.TypeInfo, Title: "maintenance"}))

	resp, err := svc.List(ctx, domain.ListRequest{UserID: userID})
	require.NoError(t, err)
	require.Len(t, resp.Notifications, 1)

	require.NoError(t, svc.Delete(ctx, userID, resp.Notifications[0].ID))
	assert.ErrorIs(t, svc.Delete(ctx, userID, resp.Notifications[0].ID), domain.ErrNotificationNotFound)
}

func TestBroadcast_ReachesAllUsers(t *testing.T) {
	db := setupNotificationDB(t)
	svc := newNotificationService(t, db)
	ctx := context.Background()

	require.NoError(t, db.Create(&testUser{ID: 3001}).Error)
	require.NoError(t, db.Create(&testUser{ID: 3002}).Error)
	require.NoError(t, db.Create(&testUser{ID: 3003}).Error)

	count, err := svc.Broadcast(ctx, domain.BroadcastRequest{
		Type:    domain.TypeWarning,
		Title:   "Scheduled maintenance",
		Message: "The service will be unavailable on Sunday 02:00-03:00 UTC.",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	resp, err := svc.List(ctx, domain.ListRequest{UserID: snowflake.ID(3002)})
	require.NoError(t, err)
	require.Len(t, resp.Notifications, 1)
	assert.Equal(t, "Scheduled maintenance", resp.Notifications[0].Title)
}
