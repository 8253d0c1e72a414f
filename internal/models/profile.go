package models

import (
	"strings"
	"time"
)

type DisplayName struct {
	GivenName  string `json:"givenName,omitempty"`
	FamilyName string `json:"familyName,omitempty"`
	MiddleName string `json:"middleName,omitempty"`
	Nickname   string `json:"nickname,omitempty"`
	NamePrefix string `json:"namePrefix,omitempty"`
	NameSuffix string `json:"nameSuffix,omitempty"`
}

// Full joins the given and family names.
func (d *DisplayName) Full() string {
	if d == nil {
		return ""
	}
	return strings.TrimSpace(d.GivenName + " " + d.FamilyName)
}

type UserProfile struct {
	ID          string       `json:"id"`
	Email       string       `json:"email"`
	DisplayName *DisplayName `json:"displayName,omitempty"`
	Username    string       `json:"username,omitempty"`
	PhotoURL    string       `json:"photoURL,omitempty"`
	Bio         string       `json:"bio,omitempty"`
	Location    string       `json:"location,omitempty"`
	Link        string       `json:"link,omitempty"`
	Work        string       `json:"work,omitempty"`
	Education   string       `json:"education,omitempty"`
	Provider    string       `json:"provider,omitempty"`
	Searchable  bool         `json:"isSearchable"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

// DisplayNameUpdate is a partial display name. Nil parts keep their stored value.
type DisplayNameUpdate struct {
	GivenName  *string `json:"givenName,omitempty"`
	FamilyName *string `json:"familyName,omitempty"`
	MiddleName *string `json:"middleName,omitempty"`
	Nickname   *string `json:"nickname,omitempty"`
	NamePrefix *string `json:"namePrefix,omitempty"`
	NameSuffix *string `json:"nameSuffix,omitempty"`
}

func (d *DisplayNameUpdate) IsEmpty() bool {
	return d == nil || (d.GivenName == nil && d.FamilyName == nil && d.MiddleName == nil &&
		d.Nickname == nil && d.NamePrefix == nil && d.NameSuffix == nil)
}

// UpdateProfileParams carries a partial profile update. Nil fields are left untouched.
type UpdateProfileParams struct {
	DisplayName *DisplayNameUpdate
	Username    *string
	PhotoURL    *string
	Bio         *string
	Location    *string
	Link        *string
	Work        *string
	Education   *string
}

func (p UpdateProfileParams) IsEmpty() bool {
	return p.DisplayName.IsEmpty() && p.Username == nil && p.PhotoURL == nil && p.Bio == nil &&
		p.Location == nil && p.Link == nil && p.Work == nil && p.Education == nil
}

// Identity is the authenticated caller as asserted by the identity provider.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
}
