package database

import (
	"context"
	"errors"
	"time"

	"github.com/thereayou/cabal/internal/models"
	"gorm.io/gorm"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrUserExists   = errors.New("user already exists")
)

func (d *Database) SaveUser(ctx context.Context, user *models.User) error {
	var count int64
	err := d.db.WithContext(ctx).Model(&models.User{}).
		Where("username = ? OR email = ?", user.Username, user.Email).
		Count(&count).Error
	if err != nil {
		return err
	}
	if count > 0 {
		return ErrUserExists
	}
	return d.db.WithContext(ctx).Create(user).Error
}

func (d *Database) GetUser(ctx context.Context, id string) (*models.User, error) {
	return d.first(ctx, "id = ?", id)
}

func (d *Database) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return d.first(ctx, "email = ?", email)
}

func (d *Database) FindUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return d.first(ctx, "username = ?", username)
}

func (d *Database) UpdateLastSeen(ctx context.Context, id string) error {
	res := d.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).Update("last_seen_at", time.Now())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (d *Database) first(ctx context.Context, query string, args ...any) (*models.User, error) {
	var user models.User
	err := d.db.WithContext(ctx).Where(query, args...).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}
