package services

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"net/url"
	"strconv"
	"time"

	"github.com/HammerMeetNail/friendlane/internal/models"
)

var (
	ErrUnauthenticated         = errors.New("unauthenticated")
	ErrSearchKeyNotConfigured  = errors.New("search key not configured")
	MaxSecuredKeyTTL           = 15 * time.Minute
	securedKeySearchableFilter = "isSearchable:true"
)

// SecuredKeyIssuer mints per-caller search keys derived from a search-only
// parent key. A key is restricted to one index, to searchable records, to the
// caller's rate-limit token, and expires within MaxSecuredKeyTTL.
type SecuredKeyIssuer struct {
	parentKey string
	index     string
	ttl       time.Duration
	now       func() time.Time
}

func NewSecuredKeyIssuer(parentKey, index string, ttl time.Duration) *SecuredKeyIssuer {
	if ttl <= 0 || ttl > MaxSecuredKeyTTL {
		ttl = MaxSecuredKeyTTL
	}
	return &SecuredKeyIssuer{
		parentKey: parentKey,
		index:     index,
		ttl:       ttl,
		now:       time.Now,
	}
}

func (i *SecuredKeyIssuer) Issue(ctx context.Context, callerID string) (models.SecuredKey, error) {
	if callerID == "" {
		return models.SecuredKey{}, ErrUnauthenticated
	}
	if i.parentKey == "" {
		return models.SecuredKey{}, ErrSearchKeyNotConfigured
	}

	validUntil := i.now().Add(i.ttl).Truncate(time.Second)
	params := url.Values{}
	params.Set("filters", securedKeySearchableFilter)
	params.Set("restrictIndices", i.index)
	params.Set("userToken", callerID)
	params.Set("validUntil", strconv.FormatInt(validUntil.Unix(), 10))
	encoded := params.Encode()

	return models.SecuredKey{
		Key:        signSecuredKey(i.parentKey, encoded),
		ValidUntil: validUntil,
	}, nil
}

// signSecuredKey produces base64(hex(HMAC-SHA256(parent, params)) + params),
// the format the hosted index verifies.
func signSecuredKey(parentKey, params string) string {
	mac := hmac.New(sha256.New, []byte(parentKey))
	mac.Write([]byte(params))
	signature := hex.EncodeToString(mac.Sum(nil))
	return base64.StdEncoding.EncodeToString([]byte(signature + params))
}
