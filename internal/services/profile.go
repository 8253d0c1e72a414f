package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/HammerMeetNail/friendlane/internal/models"
)

var (
	ErrProfileNotFound       = errors.New("profile not found")
	ErrUsernameAlreadyExists = errors.New("username already taken")
	ErrInvalidUsername       = errors.New("username must be 3-30 characters of letters, digits, '.' or '_'")
	ErrEmptyProfileUpdate    = errors.New("no profile fields to update")
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.]{3,30}$`)

// PrefixField selects the lowercased column a prefix match runs against.
type PrefixField int

const (
	PrefixFieldUsername PrefixField = iota
	PrefixFieldDisplayName
)

func (f PrefixField) column() (string, error) {
	switch f {
	case PrefixFieldUsername:
		return "username_lower", nil
	case PrefixFieldDisplayName:
		return "display_name_lower", nil
	}
	return "", fmt.Errorf("unknown prefix field %d", f)
}

// prefixRangeEnd closes the half-open range [prefix, prefix+U+F8FF) used to
// emulate "starts with" on an ordered column.
const prefixRangeEnd = "\uf8ff"

const profileColumns = `id, email, given_name, family_name, middle_name, nickname, name_prefix, name_suffix,
	username, photo_url, bio, location, link, work, education, provider, searchable, created_at, updated_at`

type ProfileServiceInterface interface {
	GetByID(ctx context.Context, id string) (*models.UserProfile, error)
	EnsureProfile(ctx context.Context, identity models.Identity, provider string) error
	PrefixMatchIDs(ctx context.Context, field PrefixField, prefix string, limit int) ([]string, error)
	Update(ctx context.Context, id string, params models.UpdateProfileParams) (*models.UserProfile, error)
	UpdateSearchable(ctx context.Context, id string, searchable bool) error
}

// ProfileService reads and partially updates user profiles. Rows are created
// on first sign-in and start hidden from the directory.
type ProfileService struct {
	db DBConn
}

func NewProfileService(db DBConn) *ProfileService {
	return &ProfileService{db: db}
}

func (s *ProfileService) GetByID(ctx context.Context, id string) (*models.UserProfile, error) {
	if id == "" {
		return nil, ErrProfileNotFound
	}
	profile, err := scanProfile(s.db.QueryRow(ctx,
		`SELECT `+profileColumns+` FROM users WHERE id = $1`,
		id,
	))
	if isNoRows(err) {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting profile by id: %w", err)
	}
	return profile, nil
}

// EnsureProfile creates the caller's row on first sign-in and keeps the email
// current afterwards.
func (s *ProfileService) EnsureProfile(ctx context.Context, identity models.Identity, provider string) error {
	if identity.ID == "" {
		return ErrInvalidUserID
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO users (id, email, provider)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET email = EXCLUDED.email
		 WHERE users.email IS DISTINCT FROM EXCLUDED.email`,
		identity.ID, identity.Email, provider,
	)
	if err != nil {
		return fmt.Errorf("ensuring profile: %w", err)
	}
	return nil
}

// PrefixMatchIDs returns ids of searchable profiles whose field starts with
// prefix, ordered by that field.
func (s *ProfileService) PrefixMatchIDs(ctx context.Context, field PrefixField, prefix string, limit int) ([]string, error) {
	column, err := field.column()
	if err != nil {
		return nil, err
	}
	if prefix == "" || limit <= 0 {
		return []string{}, nil
	}

	rows, err := s.db.Query(ctx,
		`SELECT id FROM users
		 WHERE searchable AND `+column+` >= $1 AND `+column+` < $2
		 ORDER BY `+column+`, id
		 LIMIT $3`,
		prefix, prefix+prefixRangeEnd, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying %s prefix: %w", column, err)
	}
	return scanIDs(rows)
}

func (s *ProfileService) Update(ctx context.Context, id string, params models.UpdateProfileParams) (*models.UserProfile, error) {
	if params.IsEmpty() {
		return nil, ErrEmptyProfileUpdate
	}

	if params.Username != nil {
		username := strings.TrimSpace(*params.Username)
		if username != "" && !usernamePattern.MatchString(username) {
			return nil, ErrInvalidUsername
		}
		params.Username = &username

		if username != "" {
			var exists bool
			err := s.db.QueryRow(ctx,
				"SELECT EXISTS(SELECT 1 FROM users WHERE username_lower = LOWER($1) AND id <> $2)",
				username, id,
			).Scan(&exists)
			if err != nil {
				return nil, fmt.Errorf("checking username existence: %w", err)
			}
			if exists {
				return nil, ErrUsernameAlreadyExists
			}
		}
	}

	var given, family, middle, nickname, prefix, suffix *string
	if dn := params.DisplayName; dn != nil {
		given, family, middle = trimmedPtr(dn.GivenName), trimmedPtr(dn.FamilyName), trimmedPtr(dn.MiddleName)
		nickname, prefix, suffix = trimmedPtr(dn.Nickname), trimmedPtr(dn.NamePrefix), trimmedPtr(dn.NameSuffix)
	}

	profile, err := scanProfile(s.db.QueryRow(ctx,
		`UPDATE users SET
			given_name  = COALESCE($2, given_name),
			family_name = COALESCE($3, family_name),
			middle_name = COALESCE($4, middle_name),
			nickname    = COALESCE($5, nickname),
			name_prefix = COALESCE($6, name_prefix),
			name_suffix = COALESCE($7, name_suffix),
			username    = COALESCE($8, username),
			photo_url   = COALESCE($9, photo_url),
			bio         = COALESCE($10, bio),
			location    = COALESCE($11, location),
			link        = COALESCE($12, link),
			work        = COALESCE($13, work),
			education   = COALESCE($14, education),
			updated_at  = NOW()
		 WHERE id = $1
		 RETURNING `+profileColumns,
		id, given, family, middle, nickname, prefix, suffix,
		params.Username, params.PhotoURL, params.Bio, params.Location, params.Link, params.Work, params.Education,
	))
	if isNoRows(err) {
		return nil, ErrProfileNotFound
	}
	if pgErrorCode(err) == pgUniqueViolation {
		return nil, ErrUsernameAlreadyExists
	}
	if err != nil {
		return nil, fmt.Errorf("updating profile: %w", err)
	}
	return profile, nil
}

func (s *ProfileService) UpdateSearchable(ctx context.Context, id string, searchable bool) error {
	result, err := s.db.Exec(ctx,
		`UPDATE users SET searchable = $1, updated_at = NOW() WHERE id = $2`,
		searchable, id,
	)
	if err != nil {
		return fmt.Errorf("updating searchable: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrProfileNotFound
	}

	return nil
}

func scanProfile(row Row) (*models.UserProfile, error) {
	p := &models.UserProfile{}
	var dn models.DisplayName
	err := row.Scan(
		&p.ID, &p.Email,
		&dn.GivenName, &dn.FamilyName, &dn.MiddleName, &dn.Nickname, &dn.NamePrefix, &dn.NameSuffix,
		&p.Username, &p.PhotoURL, &p.Bio, &p.Location, &p.Link, &p.Work, &p.Education, &p.Provider,
		&p.Searchable, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if dn != (models.DisplayName{}) {
		p.DisplayName = &dn
	}
	return p, nil
}

// trimmedPtr trims a present value; nil stays nil so COALESCE keeps the column.
func trimmedPtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}
