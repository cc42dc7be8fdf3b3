package profiles

import "github.com/longanisha/Mahidol-Forum-sub000/internal/utils"

// Patch is a partial profile update. Nil fields are left untouched.
type Patch struct {
	Username    *string `json:"username,omitempty"`
	AvatarURL   *string `json:"avatar_url,omitempty"`
	TotalPoints *int    `json:"total_points,omitempty"`
	Level       *int    `json:"level,omitempty"`
}

func (p Patch) Empty() bool {
	return p.Username == nil && p.AvatarURL == nil && p.TotalPoints == nil && p.Level == nil
}

// Apply returns a copy of base with the patch applied. Points without an
// explicit level recompute the level.
func (p Patch) Apply(base Profile) Profile {
	base.Username = utils.ValueOr(p.Username, base.Username)
	base.AvatarURL = utils.ValueOr(p.AvatarURL, base.AvatarURL)
	if p.TotalPoints != nil {
		base.TotalPoints = *p.TotalPoints
		base.Level = LevelFor(base.TotalPoints)
	}
	base.Level = utils.ValueOr(p.Level, base.Level)
	return base
}

// Editable keeps only the fields the backend lets a user change themselves.
func (p Patch) Editable() Patch {
	return Patch{Username: p.Username, AvatarURL: p.AvatarURL}
}
