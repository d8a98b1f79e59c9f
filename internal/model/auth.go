package model

import "time"

// ChallengeState describes a pending step in the login flow.
type ChallengeState string

const (
	ChallengeNone      ChallengeState = ""
	ChallengeSMSMFA    ChallengeState = "SMS_MFA"
	ChallengeDeviceSRP ChallengeState = "DEVICE_SRP_AUTH"
)

// DeviceMetadata identifies this install as a remembered device at the identity provider.
type DeviceMetadata struct {
	GroupKey string `json:"device_group_key"`
	Key      string `json:"device_key"`
	Password string `json:"device_password"`
	Name     string `json:"device_name"`
}

func (d *DeviceMetadata) Valid() bool {
	return d != nil && d.GroupKey != "" && d.Key != "" && d.Password != ""
}

// Credentials are supplied by the user during setup.
type Credentials struct {
	Username string          `json:"username"`
	Password string          `json:"password"`
	Device   *DeviceMetadata `json:"device,omitempty"`
}

// TokenSet is the result of a login step. While Challenge is set only the
// challenge fields carry meaning and the set must not be used for API calls.
type TokenSet struct {
	AccessToken  string         `json:"access_token"`
	RefreshToken string         `json:"refresh_token"`
	IDToken      string         `json:"id_token"`
	Expiry       time.Time      `json:"expiry"`
	Challenge    ChallengeState `json:"challenge,omitempty"`

	// ChallengeSession is the opaque blob the identity provider issued with the challenge.
	ChallengeSession string `json:"-"`
	ChallengeUser    string `json:"-"`
	// NewDevice is set when the provider allows this login to be remembered as a device.
	NewDevice *DeviceMetadata `json:"-"`
}

// Authenticated reports whether the set can be used for API calls.
func (t TokenSet) Authenticated() bool {
	return t.Challenge == ChallengeNone && t.AccessToken != "" && t.RefreshToken != ""
}

// ExpiresWithin reports whether the access token lapses within d of now.
func (t TokenSet) ExpiresWithin(now time.Time, d time.Duration) bool {
	if t.Expiry.IsZero() {
		return true
	}
	return now.Add(d).After(t.Expiry)
}
