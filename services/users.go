package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"rpg-portal/logger"
	"rpg-portal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// UserInput is the admin-editable part of a user record.
type UserInput struct {
	Email       string         `json:"email" validate:"required,email"`
	DisplayName string         `json:"display_name" validate:"max=120"`
	PhotoURL    string         `json:"photo_url" validate:"omitempty,url"`
	Phone       string         `json:"phone" validate:"max=32"`
	Plan        string         `json:"plan" validate:"max=32"`
	Discord     string         `json:"discord" validate:"max=64"`
	Address     models.Address `json:"address"`
}

// ProfileInput is what users may change about themselves.
type ProfileInput struct {
	DisplayName string `json:"display_name" validate:"required,max=120"`
	PhotoURL    string `json:"photo_url" validate:"omitempty,url"`
	Phone       string `json:"phone" validate:"max=32"`
	Discord     string `json:"discord" validate:"max=64"`
}

// AddressInput validates the address form.
type AddressInput struct {
	Street     string `json:"street" validate:"required,max=160"`
	Number     string `json:"number" validate:"required,max=16"`
	City       string `json:"city" validate:"required,max=80"`
	State      string `json:"state" validate:"required,max=40"`
	PostalCode string `json:"postal_code" validate:"required,max=16"`
}

type UserService struct {
	DB *gorm.DB
}

func NewUserService(db *gorm.DB) *UserService {
	return &UserService{DB: db}
}

// Search matches q against name and email; plan filters exactly.
func (s *UserService) Search(ctx context.Context, q, plan string, limit, offset int) ([]models.User, int64, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	db := s.DB.WithContext(ctx).Model(&models.User{})
	if q = strings.TrimSpace(q); q != "" {
		term := "%" + strings.ToLower(q) + "%"
		db = db.Where("LOWER(display_name) LIKE ? OR LOWER(email) LIKE ?", term, term)
	}
	if plan = NormalizePlan(plan); plan != "" {
		db = db.Where("plan = ?", plan)
	}
	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}
	var users []models.User
	if err := db.Order("email ASC").Limit(limit).Offset(offset).Find(&users).Error; err != nil {
		return nil, 0, fmt.Errorf("search users: %w", err)
	}
	return users, total, nil
}

func (s *UserService) Get(ctx context.Context, id string) (*models.User, error) {
	var u models.User
	err := s.DB.WithContext(ctx).First(&u, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: user %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *UserService) emailTaken(db *gorm.DB, email, exceptID string) (bool, error) {
	var count int64
	q := db.Model(&models.User{}).Where("LOWER(email) = ?", email)
	if exceptID != "" {
		q = q.Where("id <> ?", exceptID)
	}
	err := q.Count(&count).Error
	return count > 0, err
}

func (in *UserInput) normalize() error {
	in.Email = NormalizeEmail(in.Email)
	in.Plan = NormalizePlan(in.Plan)
	if err := Validate.Struct(in); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if in.Plan != "" && !IsValidPlan(in.Plan) {
		return fmt.Errorf("%w: %s", ErrUnknownPlan, in.Plan)
	}
	return nil
}

// Create adds a user by hand. The email must not be stored yet.
func (s *UserService) Create(ctx context.Context, in UserInput) (*models.User, error) {
	if err := in.normalize(); err != nil {
		return nil, err
	}
	if in.Plan == "" {
		in.Plan = LowestPlan()
	}
	db := s.DB.WithContext(ctx)
	if taken, err := s.emailTaken(db, in.Email, ""); err != nil {
		return nil, err
	} else if taken {
		return nil, ErrEmailTaken
	}
	u := &models.User{
		ID:           uuid.NewString(),
		Email:        in.Email,
		DisplayName:  strings.TrimSpace(in.DisplayName),
		PhotoURL:     in.PhotoURL,
		Phone:        strings.TrimSpace(in.Phone),
		Plan:         in.Plan,
		Discord:      strings.TrimSpace(in.Discord),
		Address:      in.Address,
		Events:       models.EventLog{},
		Achievements: map[string]models.AchievementState{},
	}
	if err := db.Create(u).Error; err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	logger.Info().Str("user_id", u.ID).Str("email", u.Email).Msg("✅ User created")
	return u, nil
}

func (s *UserService) Update(ctx context.Context, id string, in UserInput) (*models.User, error) {
	if err := in.normalize(); err != nil {
		return nil, err
	}
	u, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	db := s.DB.WithContext(ctx)
	if in.Email != u.Email {
		if taken, err := s.emailTaken(db, in.Email, u.ID); err != nil {
			return nil, err
		} else if taken {
			return nil, ErrEmailTaken
		}
	}
	u.Email = in.Email
	u.DisplayName = strings.TrimSpace(in.DisplayName)
	u.PhotoURL = in.PhotoURL
	u.Phone = strings.TrimSpace(in.Phone)
	if in.Plan != "" {
		u.Plan = in.Plan
	}
	u.Discord = strings.TrimSpace(in.Discord)
	u.Address = in.Address
	if err := db.Model(u).
		Select("Email", "DisplayName", "PhotoURL", "Phone", "Plan", "Discord", "Address").
		Updates(u).Error; err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}
	return u, nil
}

// Delete removes a user together with their seat claims and inbox.
func (s *UserService) Delete(ctx context.Context, id string) error {
	u, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", u.ID).Delete(&models.SeatClaim{}).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", u.ID).Delete(&models.Message{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.User{}, "id = ?", u.ID).Error
	})
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	logger.Info().Str("user_id", u.ID).Msg("🗑️ User deleted")
	return nil
}

// SetPlan is the admin plan override. Permissions pick the new plan up on
// the user's next request since sessions are rebuilt from storage.
func (s *UserService) SetPlan(ctx context.Context, id, plan string) (*models.User, error) {
	plan = NormalizePlan(plan)
	if !IsValidPlan(plan) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlan, plan)
	}
	u, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.DB.WithContext(ctx).Model(&models.User{}).Where("id = ?", u.ID).Update("plan", plan).Error; err != nil {
		return nil, fmt.Errorf("set plan: %w", err)
	}
	logger.Info().Str("user_id", u.ID).Str("from", u.Plan).Str("to", plan).Msg("💎 Plan changed")
	u.Plan = plan
	return u, nil
}

// SetPlanByEmail is SetPlan for maintenance scripts that only know the address.
func (s *UserService) SetPlanByEmail(ctx context.Context, email, plan string) (*models.User, error) {
	var u models.User
	err := s.DB.WithContext(ctx).Where("LOWER(email) = ?", NormalizeEmail(email)).Order("created_at ASC").First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: user %s", ErrNotFound, email)
	}
	if err != nil {
		return nil, err
	}
	return s.SetPlan(ctx, u.ID, plan)
}

func (s *UserService) UpdateProfile(ctx context.Context, id string, in ProfileInput) (*models.User, error) {
	in.DisplayName = NormalizeName(in.DisplayName)
	if err := Validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	u, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	u.DisplayName = in.DisplayName
	u.PhotoURL = strings.TrimSpace(in.PhotoURL)
	u.Phone = strings.TrimSpace(in.Phone)
	u.Discord = strings.TrimSpace(in.Discord)
	if err := s.DB.WithContext(ctx).Model(u).
		Select("DisplayName", "PhotoURL", "Phone", "Discord").
		Updates(u).Error; err != nil {
		return nil, fmt.Errorf("update profile: %w", err)
	}
	return u, nil
}

// SetPhoto replaces the user's avatar URL, typically after an upload.
func (s *UserService) SetPhoto(ctx context.Context, id, url string) (*models.User, error) {
	u, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	u.PhotoURL = url
	if err := s.DB.WithContext(ctx).Model(u).Update("photo_url", url).Error; err != nil {
		return nil, fmt.Errorf("update photo: %w", err)
	}
	return u, nil
}

func (s *UserService) UpdateAddress(ctx context.Context, id string, in AddressInput) (*models.User, error) {
	if err := Validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	u, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	u.Address = models.Address{
		Street:     strings.TrimSpace(in.Street),
		Number:     strings.TrimSpace(in.Number),
		City:       strings.TrimSpace(in.City),
		State:      strings.TrimSpace(in.State),
		PostalCode: strings.TrimSpace(in.PostalCode),
	}
	if err := s.DB.WithContext(ctx).Model(u).Select("Address").Updates(u).Error; err != nil {
		return nil, fmt.Errorf("update address: %w", err)
	}
	return u, nil
}
