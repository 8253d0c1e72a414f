package services

import "github.com/HammerMeetNail/friendlane/internal/models"

// ProjectIndexRecord maps a profile to its hosted-index document. It reports
// false when the profile should be absent from the index.
func ProjectIndexRecord(profile *models.UserProfile) (models.IndexRecord, bool) {
	if profile == nil || !profile.Searchable {
		return models.IndexRecord{}, false
	}

	record := models.IndexRecord{
		ObjectID:     profile.ID,
		DisplayName:  profile.DisplayName.Full(),
		Username:     profile.Username,
		AvatarURL:    profile.PhotoURL,
		IsSearchable: true,
	}
	if dn := profile.DisplayName; dn != nil {
		record.GivenName = dn.GivenName
		record.FamilyName = dn.FamilyName
	}
	return record, true
}
