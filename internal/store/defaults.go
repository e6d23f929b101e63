package store

import (
	"context"
	"errors"

	"github.com/quizdesk/quizstore/types"
)

// DefaultSettingValues are written on first initialization.
var DefaultSettingValues = map[string]any{
	types.SettingCompanyName:          "Your Company",
	types.SettingPassingScore:         defaultPassingScore,
	types.SettingCertificateValidity:  365,
	types.SettingSelfRegistration:     true,
	types.SettingDefaultQuizTimeLimit: 0,
	types.SettingDefaultQuizQuestions: 10,
	types.SettingTrackCategories:      true,
	types.SettingRequireResetPassword: true,
	types.SettingPasswordExpiryDays:   90,
}

// DefaultQuestions seeds an empty question bank.
func DefaultQuestions() []types.Question {
	return []types.Question{
		{
			ID:       1,
			Question: "What should you do before operating a forklift?",
			Options: []string{
				"Check fuel only",
				"Full pre-shift inspection",
				"Test horn",
				"Load immediately",
			},
			Answer:      1,
			Explanation: "OSHA requires a pre-shift inspection for safety.",
			Category:    "Safety",
			Difficulty:  "Basic",
		},
		{
			ID:       2,
			Question: "What is the proper way to approach an intersection with a forklift?",
			Options: []string{
				"Speed up to get through quickly",
				"Honk and proceed without stopping",
				"Slow down, honk, and look both ways",
				"Always come to a complete stop",
			},
			Answer:      2,
			Explanation: "Slowing down, honking, and looking both ways ensures visibility and warns pedestrians of your approach.",
			Category:    "Operation",
			Difficulty:  "Intermediate",
		},
		{
			ID:       3,
			Question: "When parking a forklift at the end of a shift, you should:",
			Options: []string{
				"Leave the forks raised for easy access next shift",
				"Park anywhere convenient",
				"Lower the forks to the ground, set the brake, and turn off the engine",
				"Leave the key in the ignition for the next operator",
			},
			Answer:      2,
			Explanation: "Lowering forks, setting the brake, and turning off the engine are essential safety protocols for parking.",
			Category:    "Safety",
			Difficulty:  "Basic",
		},
	}
}

// InitializeDefaults writes missing default settings, seeds the question
// bank when it is empty and creates admin when no user by that name exists.
// Existing records are never overwritten.
func (f *Facade) InitializeDefaults(ctx context.Context, admin *types.User) error {
	settings, err := f.backend.LoadSettings(ctx)
	if err != nil {
		return err
	}
	now := f.now()
	for key, value := range DefaultSettingValues {
		if _, ok := settings[key]; ok {
			continue
		}
		setting, err := types.NewSetting(key, value, now)
		if err != nil {
			return &Error{Kind: ErrConversion, Mode: f.backend.Mode(), Op: "initialize_defaults", Err: err}
		}
		if err := f.backend.PutSetting(ctx, setting); err != nil {
			return err
		}
		f.log.Debug().Str("key", key).Msg("default setting written")
	}

	questions, err := f.backend.LoadQuestions(ctx)
	if err != nil {
		return err
	}
	if len(questions) == 0 {
		if err := f.backend.SaveQuestions(ctx, DefaultQuestions()); err != nil {
			return err
		}
		f.log.Info().Msg("default questions seeded")
	}

	if admin == nil {
		return nil
	}
	_, err = f.backend.GetUser(ctx, admin.Username)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrNotFound) {
		return err
	}
	admin.Role = types.RoleAdministrator
	_, err = f.CreateUser(ctx, *admin)
	return err
}
