package auth

import (
	"github.com/golang-jwt/jwt/v5"
)

// userInfoClaims is the subset of access-token claims cached on the
// session for display purposes.
var userInfoClaims = []string{"sub", "preferred_username", "email", "realm_access"}

// cachedUserInfo decodes display claims from an access token without
// verifying its signature. Precondition: the token was just received from
// the provider over the broker's own backchannel, so its origin is already
// established; anything stronger must come from the resource server
// re-validating the token itself.
func cachedUserInfo(accessToken string) map[string]any {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		// Opaque (non-JWT) access tokens are legal; just skip the cache.
		return nil
	}

	info := make(map[string]any)
	for _, name := range userInfoClaims {
		if v, ok := claims[name]; ok {
			info[name] = v
		}
	}
	if len(info) == 0 {
		return nil
	}
	return info
}
