package models

import "time"

// SearchHit is a ranked result from the search index. It only selects which
// profiles to load; it is never treated as profile data.
type SearchHit struct {
	ObjectID string `json:"objectID"`
	Rank     int    `json:"rank"`
}

// IndexRecord is the document pushed to the search index for a profile.
type IndexRecord struct {
	ObjectID     string `json:"objectID"`
	DisplayName  string `json:"displayName"`
	GivenName    string `json:"givenName"`
	FamilyName   string `json:"familyName"`
	Username     string `json:"username"`
	AvatarURL    string `json:"avatarUrl"`
	IsSearchable bool   `json:"isSearchable"`
}

type SecuredKey struct {
	Key        string    `json:"key"`
	ValidUntil time.Time `json:"valid_until"`
}

// Expired reports whether the key is unusable at now, keeping a safety margin.
func (k SecuredKey) Expired(now time.Time, margin time.Duration) bool {
	return k.Key == "" || !now.Add(margin).Before(k.ValidUntil)
}
