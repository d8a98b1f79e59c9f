package cognito

const targetPrefix = "AWSCognitoIdentityProviderService."

const (
	flowUserSRP      = "USER_SRP_AUTH"
	flowRefreshToken = "REFRESH_TOKEN_AUTH"

	challengePasswordVerifier       = "PASSWORD_VERIFIER"
	challengeSMSMFA                 = "SMS_MFA"
	challengeDeviceSRP              = "DEVICE_SRP_AUTH"
	challengeDevicePasswordVerifier = "DEVICE_PASSWORD_VERIFIER"
)

type initiateAuthRequest struct {
	AuthFlow       string            `json:"AuthFlow"`
	ClientID       string            `json:"ClientId"`
	AuthParameters map[string]string `json:"AuthParameters"`
}

type respondRequest struct {
	ChallengeName      string            `json:"ChallengeName"`
	ClientID           string            `json:"ClientId"`
	ChallengeResponses map[string]string `json:"ChallengeResponses"`
	Session            string            `json:"Session,omitempty"`
}

type authResponse struct {
	ChallengeName        string            `json:"ChallengeName,omitempty"`
	ChallengeParameters  map[string]string `json:"ChallengeParameters,omitempty"`
	Session              string            `json:"Session,omitempty"`
	AuthenticationResult *authResult       `json:"AuthenticationResult,omitempty"`
}

type authResult struct {
	AccessToken       string             `json:"AccessToken"`
	RefreshToken      string             `json:"RefreshToken,omitempty"`
	IDToken           string             `json:"IdToken"`
	ExpiresIn         int                `json:"ExpiresIn"`
	TokenType         string             `json:"TokenType"`
	NewDeviceMetadata *newDeviceMetadata `json:"NewDeviceMetadata,omitempty"`
}

type newDeviceMetadata struct {
	DeviceGroupKey string `json:"DeviceGroupKey"`
	DeviceKey      string `json:"DeviceKey"`
}

type deviceSecretVerifierConfig struct {
	PasswordVerifier string `json:"PasswordVerifier"`
	Salt             string `json:"Salt"`
}

type confirmDeviceRequest struct {
	AccessToken                string                     `json:"AccessToken"`
	DeviceKey                  string                     `json:"DeviceKey"`
	DeviceName                 string                     `json:"DeviceName"`
	DeviceSecretVerifierConfig deviceSecretVerifierConfig `json:"DeviceSecretVerifierConfig"`
}

type confirmDeviceResponse struct {
	UserConfirmationNecessary bool `json:"UserConfirmationNecessary"`
}

type updateDeviceStatusRequest struct {
	AccessToken            string `json:"AccessToken"`
	DeviceKey              string `json:"DeviceKey"`
	DeviceRememberedStatus string `json:"DeviceRememberedStatus"`
}

type errorDocument struct {
	Type    string `json:"__type"`
	Message string `json:"message"`
}
