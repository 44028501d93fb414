package adminauth

import (
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials is returned by validators for a wrong email or password.
// Callers must not distinguish the two to the client.
var ErrInvalidCredentials = errors.New("invalid credentials")

// NewCreateAdminFunc creates a CreateAdminFunc backed by store
func NewCreateAdminFunc(store AdminStore, validate AdminValidator) CreateAdminFunc {
	if validate == nil {
		validate = DefaultAdminValidator
	}
	return func(creds *AdminCredentials) (*Admin, error) {
		creds.Email = NormalizeEmail(creds.Email)
		if err := validate(creds); err != nil {
			return nil, err
		}

		if existing, err := store.GetAdminByEmail(creds.Email); err == nil && existing != nil {
			return nil, fmt.Errorf("%s: %w", creds.Email, ErrAdminExists)
		}

		passwordHash, err := bcrypt.GenerateFromPassword([]byte(creds.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("failed to hash password: %w", err)
		}

		scopes := creds.Scopes
		if len(scopes) == 0 {
			scopes = DefaultAdminScopes()
		}

		now := time.Now()
		admin := &Admin{
			ID:           NewAdminID(),
			Email:        creds.Email,
			Name:         creds.Name,
			Role:         creds.Role,
			PasswordHash: string(passwordHash),
			Active:       true,
			Scopes:       scopes,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := store.CreateAdmin(admin); err != nil {
			return nil, fmt.Errorf("failed to create admin: %w", err)
		}

		log.Printf("Created admin %s (%s)", admin.ID, admin.Email)
		return admin, nil
	}
}

// NewCredentialsValidator creates a CredentialsValidator backed by store
func NewCredentialsValidator(store AdminStore) CredentialsValidator {
	return func(email, password string) (*Admin, error) {
		admin, err := store.GetAdminByEmail(NormalizeEmail(email))
		if err != nil {
			if errors.Is(err, ErrAdminNotFound) {
				return nil, ErrInvalidCredentials
			}
			return nil, err
		}

		if !admin.Active {
			return nil, ErrInvalidCredentials
		}

		if err := bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte(password)); err != nil {
			return nil, ErrInvalidCredentials
		}

		return admin, nil
	}
}

// NewUpdatePasswordFunc returns a function that replaces an admin's password
func NewUpdatePasswordFunc(store AdminStore) func(adminID, newPassword string) error {
	return func(adminID, newPassword string) error {
		if len(newPassword) < 8 {
			return fmt.Errorf("password must be at least 8 characters")
		}

		admin, err := store.GetAdminByID(adminID)
		if err != nil {
			return err
		}

		passwordHash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("failed to hash password: %w", err)
		}

		admin.PasswordHash = string(passwordHash)
		admin.UpdatedAt = time.Now()
		if err := store.SaveAdmin(admin); err != nil {
			return fmt.Errorf("failed to update password: %w", err)
		}

		log.Printf("Password updated for admin %s", admin.ID)
		return nil
	}
}
