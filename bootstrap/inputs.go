package bootstrap

import (
	"fmt"

	"mongoinit/config"
	"mongoinit/storage"
	"mongoinit/util"

	"go.uber.org/zap"
)

// Inputs are the resolved identifiers and secrets of one run.
// They are complete before any network call is made.
type Inputs struct {
	AdminUser      string
	AdminPassword  string
	AdminSource    string
	AdminMechanism string

	Database   string
	Collection string

	AppUser        string
	AppPassword    string
	AppRole        string
	AppMechanism   string
	ConflictPolicy config.ConflictPolicy
}

// AdminCredential returns the credential used for every administrative command
func (in Inputs) AdminCredential() storage.Credential {
	return storage.Credential{
		Username:  in.AdminUser,
		Password:  in.AdminPassword,
		Source:    in.AdminSource,
		Mechanism: in.AdminMechanism,
	}
}

// AppCredential returns the application credential; it authenticates against the target database
func (in Inputs) AppCredential() storage.Credential {
	return storage.Credential{
		Username:  in.AppUser,
		Password:  in.AppPassword,
		Source:    in.Database,
		Mechanism: in.AppMechanism,
	}
}

// AppUserSpec returns the user definition written by createUser and updateUser
func (in Inputs) AppUserSpec() storage.UserSpec {
	return storage.UserSpec{
		Username:   in.AppUser,
		Password:   in.AppPassword,
		Mechanisms: []string{in.AppMechanism},
		Roles:      []storage.Role{{Role: in.AppRole, DB: in.Database}},
	}
}

func inputsFromConfig(cfg *config.Config) Inputs {
	return Inputs{
		AdminUser:      cfg.Admin.Username,
		AdminSource:    cfg.Admin.AuthSource,
		AdminMechanism: cfg.Admin.Mechanism,
		Database:       cfg.Target.Database,
		Collection:     cfg.Target.Collection,
		AppUser:        cfg.App.Username,
		AppRole:        cfg.App.Role,
		AppMechanism:   cfg.App.Mechanism,
		ConflictPolicy: cfg.App.ConflictPolicy,
	}
}

// LoadInputs resolves both passwords through secrets and applies the password policy
func LoadInputs(cfg *config.Config, secrets config.SecretManager, sugar *zap.SugaredLogger) (Inputs, error) {
	in := inputsFromConfig(cfg)

	rootPassword, err := secrets.GetRootPassword()
	if err != nil {
		return Inputs{}, fmt.Errorf("%w: administrative password: %w", ErrConfig, err)
	}
	in.AdminPassword = rootPassword

	if err := loadAppPassword(&in, cfg, secrets, sugar); err != nil {
		return Inputs{}, err
	}
	return in, nil
}

// LoadAppInputs resolves only the application password, for verification without admin rights
func LoadAppInputs(cfg *config.Config, secrets config.SecretManager, sugar *zap.SugaredLogger) (Inputs, error) {
	in := inputsFromConfig(cfg)
	if err := loadAppPassword(&in, cfg, secrets, sugar); err != nil {
		return Inputs{}, err
	}
	return in, nil
}

func loadAppPassword(in *Inputs, cfg *config.Config, secrets config.SecretManager, sugar *zap.SugaredLogger) error {
	appPassword, err := secrets.GetAppPassword()
	if err != nil {
		return fmt.Errorf("%w: application password: %w", ErrConfig, err)
	}
	in.AppPassword = appPassword

	policy := &util.PasswordPolicy{
		MinLength:      cfg.PasswordPolicy.MinLength,
		MaxLength:      util.DefaultPasswordPolicy().MaxLength,
		RequireClasses: cfg.PasswordPolicy.RequireClasses,
	}
	if err := policy.Validate(appPassword, in.AppUser); err != nil {
		if cfg.PasswordPolicy.Enforce {
			return fmt.Errorf("%w: application password for %q: %w", ErrConfig, in.AppUser, err)
		}
		sugar.Warnw("Application password does not satisfy password policy",
			"user", in.AppUser,
			"reason", err.Error())
	}
	return nil
}
