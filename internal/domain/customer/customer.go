package customer

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
)

// ErrNotFound is returned when a user does not exist.
var ErrNotFound = errors.New("user not found")

// DefaultCountry is assumed for addresses that do not name one.
const DefaultCountry = "VN"

// Address is a shipping destination.
type Address struct {
	FullName string `json:"fullName"`
	Phone    string `json:"phone"`
	Email    string `json:"email,omitempty"`
	Line1    string `json:"line1"`
	Line2    string `json:"line2,omitempty"`
	Ward     string `json:"ward,omitempty"`
	District string `json:"district"`
	Province string `json:"province"`
	Country  string `json:"country"`
	Note     string `json:"note,omitempty"`
}

// IsZero reports whether no field of the address is set.
func (a Address) IsZero() bool {
	return a == Address{}
}

// Missing returns the names of required fields that are blank.
func (a Address) Missing() []string {
	var missing []string
	for _, f := range []struct {
		name  string
		value string
	}{
		{"fullName", a.FullName},
		{"phone", a.Phone},
		{"line1", a.Line1},
		{"district", a.District},
		{"province", a.Province},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	return missing
}

// Normalize trims every field and applies the default country.
func (a Address) Normalize() Address {
	out := Address{
		FullName: strings.TrimSpace(a.FullName),
		Phone:    strings.TrimSpace(a.Phone),
		Email:    strings.TrimSpace(a.Email),
		Line1:    strings.TrimSpace(a.Line1),
		Line2:    strings.TrimSpace(a.Line2),
		Ward:     strings.TrimSpace(a.Ward),
		District: strings.TrimSpace(a.District),
		Province: strings.TrimSpace(a.Province),
		Country:  strings.TrimSpace(a.Country),
		Note:     strings.TrimSpace(a.Note),
	}
	if out.Country == "" {
		out.Country = DefaultCountry
	}
	return out
}

// User is the subset of a user profile checkout depends on.
type User struct {
	ID             string
	Name           string
	Email          string
	Role           string
	DefaultAddress *Address
}

// Repository provides lookup of users.
type Repository interface {
	GetByID(ctx context.Context, id string) (*User, error)
}
