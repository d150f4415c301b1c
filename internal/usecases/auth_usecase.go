package usecases

import (
	"context"

	"github.com/abelzeko/water-balance/internal/entities"
	"github.com/abelzeko/water-balance/internal/integration/supabase"
)

// Login signs in with phone and password. The session token stays with the
// backend client for subsequent queries.
func (uc *WaterBalanceUseCase) Login(ctx context.Context, data entities.LoginData) (*entities.LoginResult, error) {
	sess, err := uc.backend.SignInWithPassword(ctx, data.Phone, data.Password)
	if err != nil {
		return nil, err
	}
	if sess == nil || sess.AccessToken == "" || sess.User == nil {
		return nil, supabase.ErrNoSession
	}

	user := sess.User
	updatedAt := user.UpdatedAt
	if updatedAt == "" {
		updatedAt = user.CreatedAt
	}
	return &entities.LoginResult{
		Token: sess.AccessToken,
		User: entities.User{
			ID:        user.ID,
			Email:     user.Email,
			Phone:     user.Phone,
			CreatedAt: user.CreatedAt,
			UpdatedAt: updatedAt,
		},
	}, nil
}

// Logout ends the current session.
func (uc *WaterBalanceUseCase) Logout(ctx context.Context) error {
	return uc.backend.SignOut(ctx)
}

// GetUserInfo returns the profile of the signed-in user.
func (uc *WaterBalanceUseCase) GetUserInfo(ctx context.Context) (*entities.UserInfo, error) {
	user, err := uc.backend.GetUser(ctx)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, supabase.ErrNotAuthenticated
	}

	meta := user.UserMetadata
	role := metaString(meta, "role")
	if role == "" {
		role = "user"
	}
	return &entities.UserInfo{
		Avatar:           metaString(meta, "avatar"),
		Job:              metaString(meta, "job"),
		Organization:     metaString(meta, "organization"),
		Location:         metaString(meta, "location"),
		Email:            user.Email,
		Introduction:     metaString(meta, "introduction"),
		PersonalWebsite:  metaString(meta, "personalWebsite"),
		JobName:          metaString(meta, "jobName"),
		OrganizationName: metaString(meta, "organizationName"),
		LocationName:     metaString(meta, "locationName"),
		Phone:            user.Phone,
		RegistrationDate: user.CreatedAt,
		AccountID:        user.ID,
		Certification:    metaInt(meta, "certification"),
		Role:             role,
	}, nil
}

func metaString(meta map[string]any, key string) string {
	s, _ := meta[key].(string)
	return s
}

func metaInt(meta map[string]any, key string) int {
	switch v := meta[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}
