package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	// IDRegex validates client, admin and organization ID format
	IDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// ValidateClientID validates a client ID
func ValidateClientID(clientID string) error {
	if clientID == "" {
		return fmt.Errorf("client ID is required")
	}
	if len(clientID) > 100 {
		return fmt.Errorf("client ID is too long (max 100 characters)")
	}
	if !IDRegex.MatchString(clientID) {
		return fmt.Errorf("invalid client ID format")
	}
	return nil
}

// ValidateAdminID validates an admin ID
func ValidateAdminID(adminID string) error {
	if adminID == "" {
		return fmt.Errorf("admin ID is required")
	}
	if len(adminID) > 100 {
		return fmt.Errorf("admin ID is too long (max 100 characters)")
	}
	if !IDRegex.MatchString(adminID) {
		return fmt.Errorf("invalid admin ID format")
	}
	return nil
}

// ValidateOrganizationID validates an organization ID
func ValidateOrganizationID(orgID string) error {
	if orgID == "" {
		return fmt.Errorf("organization ID is required")
	}
	if len(orgID) > 100 {
		return fmt.Errorf("organization ID is too long (max 100 characters)")
	}
	if !IDRegex.MatchString(orgID) {
		return fmt.Errorf("invalid organization ID format")
	}
	return nil
}

// ValidateUserName validates a display name
func ValidateUserName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("user name is required")
	}
	if utf8.RuneCountInString(name) > 100 {
		return fmt.Errorf("user name is too long (max 100 characters)")
	}
	if !utf8.ValidString(name) {
		return fmt.Errorf("user name contains invalid characters")
	}
	return nil
}

// ValidateURL validates URL format
func ValidateURL(urlStr string) error {
	if urlStr == "" {
		return fmt.Errorf("URL is required")
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" && u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("invalid URL scheme (must be http, https, ws, or wss)")
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}

// ValidateNonEmptyString validates that string is not empty after trimming
func ValidateNonEmptyString(s, fieldName string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	return nil
}

// ValidateStringLength validates string length
func ValidateStringLength(s string, min, max int, fieldName string) error {
	length := utf8.RuneCountInString(s)
	if length < min {
		return fmt.Errorf("%s must be at least %d characters", fieldName, min)
	}
	if length > max {
		return fmt.Errorf("%s is too long (max %d characters)", fieldName, max)
	}
	return nil
}
