package config

const (
	envCredentialsFile      = "GOOGLE_APPLICATION_CREDENTIALS"
	envProductionBucket     = "GCS_PRODUCTION_BUCKET_NAME"
	envBucket               = "GCS_BUCKET_NAME"
	defaultProductionBucket = "zavora-ai-generated-images"
	defaultBucket           = "gemini-image-test-bucket"
)

// CredentialSource names the branch that produced remote-tier credentials.
type CredentialSource string

const (
	CredentialsPlatformDefault CredentialSource = "platform-default"
	CredentialsExplicit        CredentialSource = "explicit"
	CredentialsFallbackDefault CredentialSource = "fallback-default"
)

// Credentials describes how the remote-tier client authenticates.
type Credentials struct {
	Source  CredentialSource
	KeyFile string
}

type credentialRule func(lookup LookupFunc) (Credentials, bool)

// Evaluated in order; the first match wins.
var credentialRules = []credentialRule{
	func(lookup LookupFunc) (Credentials, bool) {
		if appEnv(lookup) == "production" {
			return Credentials{Source: CredentialsPlatformDefault}, true
		}
		return Credentials{}, false
	},
	func(lookup LookupFunc) (Credentials, bool) {
		if path := stringValue(lookup, envCredentialsFile, ""); path != "" {
			return Credentials{Source: CredentialsExplicit, KeyFile: path}, true
		}
		return Credentials{}, false
	},
}

// ResolveCredentials picks remote-tier credentials: production uses the platform
// default, otherwise an explicit key file when configured, otherwise the default chain.
func ResolveCredentials(lookup LookupFunc) Credentials {
	for _, rule := range credentialRules {
		if creds, ok := rule(lookup); ok {
			return creds
		}
	}
	return Credentials{Source: CredentialsFallbackDefault}
}

// BucketName selects the production or non-production bucket.
func BucketName(lookup LookupFunc) string {
	if appEnv(lookup) == "production" {
		return stringValue(lookup, envProductionBucket, defaultProductionBucket)
	}
	return stringValue(lookup, envBucket, defaultBucket)
}
