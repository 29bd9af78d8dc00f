package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/mivvo/expertiz/internal/notification/domain"
	"github.com/mivvo/expertiz/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("notification.service"),
		genID: p.GenID,
		repo:  p.Repo,
	}
}

func (s *Service) Emit(ctx context.Context, req domain.EmitRequest) error {
	if req.UserID == 0 {
		return domain.ErrInvalidUser
	}
	title := strings.TrimSpace(req.Title)
	if title == "" || !req.Type.Valid() {
		return domain.ErrInvalidNotification
	}

	entry := domain.Notification{
		ID:        s.genID.Generate(),
		UserID:    req.UserID,
		Type:      req.Type,
		Title:     title,
		Message:   strings.TrimSpace(req.Message),
		Data:      datatypes.JSONMap(req.Data),
		ActionURL: strings.TrimSpace(req.ActionURL),
		CreatedAt: time.Now().UTC(),
	}

	if err := s.repo.Insert(ctx, s.db, &entry); err != nil {
		s.log.Warn("failed to write notification",
			zap.String("user_id", req.UserID.String()),
			zap.String("title", title),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func (s *Service) List(ctx context.Context, req domain.ListRequest) (domain.ListResponse, error) {
	if req.UserID == 0 {
		return domain.ListResponse{}, domain.ErrInvalidUser
	}

	pageSize := req.Page.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}

	var cursor *pagination.Cursor
	if token := strings.TrimSpace(req.Page.PageToken); token != "" {
		decoded, err := pagination.DecodeCursor(token)
		if err != nil {
			return domain.ListResponse{}, domain.ErrInvalidNotification
		}
		cursor = decoded
	}

	items, err := s.repo.List(ctx, s.db, domain.ListFilter{
		UserID:     req.UserID,
		UnreadOnly: req.UnreadOnly,
		Cursor:     cursor,
		Limit:      pageSize,
	})
	if err != nil {
		return domain.ListResponse{}, err
	}

	unread, err := s.repo.CountUnread(ctx, s.db, req.UserID)
	if err != nil {
		return domain.ListResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, pageSize, func(n *domain.Notification) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        n.ID.String(),
			CreatedAt: n.CreatedAt.Format(time.RFC3339Nano),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if len(items) > pageSize {
		items = items[:pageSize]
	}

	ns := make([]domain.Notification, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		ns = append(ns, *item)
	}

	resp := domain.ListResponse{Notifications: ns, UnreadCount: unread}
	if pageInfo != nil {
		resp.PageInfo = *pageInfo
	}
	return resp, nil
}

func (s *Service) MarkRead(ctx context.Context, userID, id snowflake.ID) error {
	if userID == 0 {
		return domain.ErrInvalidUser
	}
	affected, err := s.repo.MarkRead(ctx, s.db, userID, id)
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrNotificationNotFound
	}
	return nil
}

func (s *Service) MarkAllRead(ctx context.Context, userID snowflake.ID) error {
	if userID == 0 {
		return domain.ErrInvalidUser
	}
	return s.repo.MarkAllRead(ctx, s.db, userID)
}

func (s *Service) Delete(ctx context.Context, userID, id snowflake.ID) error {
	if userID == 0 {
		return domain.ErrInvalidUser
	}
	affected, err := s.repo.Delete(ctx, s.db, userID, id)
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrNotificationNotFound
	}
	return nil
}

func (s *Service) Broadcast(ctx context.Context, req domain.BroadcastRequest) (int64, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" || !req.Type.Valid() {
		return 0, domain.ErrInvalidNotification
	}

	ids, err := s.repo.ListRecipientIDs(ctx, s.db)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	entries := make([]*domain.Notification, 0, len(ids))
	for _, id := range ids {
		entries = append(entries, &domain.Notification{
			ID:        s.genID.Generate(),
			UserID:    id,
			Type:      req.Type,
			Title:     title,
			Message:   strings.TrimSpace(req.Message),
			Data:      datatypes.JSONMap(req.Data),
			CreatedAt: now,
		})
	}

	if err := s.repo.InsertBatch(ctx, s.db, entries); err != nil {
		return 0, err
	}

	s.log.Info("broadcast notification delivered",
		zap.String("title", title),
		zap.Int("recipients", len(entries)),
	)
	return int64(len(entries)), nil
}
