package adminauth

import (
	"fmt"
	"regexp"
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// AdminCredentials are the details used to create an admin
type AdminCredentials struct {
	Email    string
	Name     string
	Role     string
	Password string
	Scopes   []string
}

// AdminValidator validates credentials before an admin is created
type AdminValidator func(creds *AdminCredentials) error

// CredentialsValidator validates an email and password and returns the admin
type CredentialsValidator func(email, password string) (*Admin, error)

// CreateAdminFunc creates a new admin with the given credentials
type CreateAdminFunc func(creds *AdminCredentials) (*Admin, error)

// DefaultAdminValidator provides sensible default validation for new admins
var DefaultAdminValidator AdminValidator = func(creds *AdminCredentials) error {
	if !emailRegex.MatchString(creds.Email) {
		return fmt.Errorf("invalid email format")
	}

	// Password: minimum 8 characters
	if len(creds.Password) < 8 {
		return fmt.Errorf("password must be at least 8 characters")
	}

	return nil
}
