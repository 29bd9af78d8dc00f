package authorization

import (
	"context"
	_ "embed"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	ObjectReport       = "report"
	ObjectCredit       = "credit"
	ObjectNotification = "notification"
)

const (
	ActionReportView    = "report.view"
	ActionReportCreate  = "report.create"
	ActionReportAnalyze = "report.analyze"
	ActionReportDelete  = "report.delete"

	ActionCreditView     = "credit.view"
	ActionCreditPurchase = "credit.purchase"

	ActionNotificationView      = "notification.view"
	ActionNotificationManage    = "notification.manage"
	ActionNotificationBroadcast = "notification.broadcast"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
}

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	enforcer.BuildRoleLinks()
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, subject, object, action string) error {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return ErrInvalidActor
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	allowed, err := s.enforcer.Enforce(subject, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.log.Debug("authorization denied",
			zap.String("subject", subject),
			zap.String("object", object),
			zap.String("action", action),
		)
		return ErrForbidden
	}
	return nil
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		// Regular users own the full report workflow on their own data
		{"role:user", ObjectReport, ActionReportView},
		{"role:user", ObjectReport, ActionReportCreate},
		{"role:user", ObjectReport, ActionReportAnalyze},
		{"role:user", ObjectReport, ActionReportDelete},
		{"role:user", ObjectCredit, ActionCreditView},
		{"role:user", ObjectCredit, ActionCreditPurchase},
		{"role:user", ObjectNotification, ActionNotificationView},
		{"role:user", ObjectNotification, ActionNotificationManage},

		// Admin-only surface
		{"role:admin", ObjectNotification, ActionNotificationBroadcast},
	}

	for _, policy := range policies {
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}

	// Admins and experts inherit everything users can do
	groupings := [][]string{
		{"role:admin", "role:user"},
		{"role:expert", "role:user"},
	}
	for _, grouping := range groupings {
		if _, err := enforcer.AddGroupingPolicy(grouping); err != nil {
			return err
		}
	}
	return nil
}
