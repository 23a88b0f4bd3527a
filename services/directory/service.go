package directory

import (
	"context"
	"errors"

	"taskdesk/pkg/errutil"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db *gorm.DB
}

type ServiceParams struct {
	fx.In
	DB *gorm.DB
}

func NewService(p ServiceParams) *Service {
	return &Service{db: p.DB}
}

func (s *Service) FindUser(ctx context.Context, id string) (*User, error) {
	var user User
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errutil.NotFound("user not found", nil, errutil.WithDetails(errutil.Detail{Field: "user_id", Message: id}))
		}
		zap.L().Error("failed to query user", zap.String("user_id", id), zap.Error(err))
		return nil, errutil.Internal("failed to query user", err)
	}
	return &user, nil
}

func (s *Service) FindClient(ctx context.Context, id string) (*Client, error) {
	var client Client
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&client).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errutil.NotFound("client not found", nil, errutil.WithDetails(errutil.Detail{Field: "client_id", Message: id}))
		}
		zap.L().Error("failed to query client", zap.String("client_id", id), zap.Error(err))
		return nil, errutil.Internal("failed to query client", err)
	}
	return &client, nil
}
