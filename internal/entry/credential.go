package entry

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Redacted replaces secret values in logs and exports.
const Redacted = "**REDACTED**"

// Credential identifies one account+profile pair. It is immutable once an
// entry is set up.
type Credential struct {
	APIKey string
	// ProfileID may hold a profile name before setup; Setup resolves it.
	ProfileID   string
	ProfileName string
}

// Validate checks that the credential can be used for setup.
func (c Credential) Validate() error {
	var errs []string
	if strings.TrimSpace(c.APIKey) == "" {
		errs = append(errs, "api_key is required")
	}
	if strings.TrimSpace(c.ProfileID) == "" {
		errs = append(errs, "profile is required")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidCredential, strings.Join(errs, "; "))
	}
	return nil
}

// String never includes the API key.
func (c Credential) String() string {
	if c.ProfileName != "" {
		return fmt.Sprintf("profile %s (%s)", c.ProfileID, c.ProfileName)
	}
	return "profile " + c.ProfileID
}

// GoString keeps %#v from printing the key.
func (c Credential) GoString() string {
	return fmt.Sprintf("entry.Credential{APIKey:%q, ProfileID:%q, ProfileName:%q}", Redacted, c.ProfileID, c.ProfileName)
}

// MarshalJSON encodes the credential with the API key redacted.
func (c Credential) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{
		"api_key":      Redacted,
		"profile_id":   c.ProfileID,
		"profile_name": c.ProfileName,
	})
}
