package newssearch

import (
	"fmt"

	"newsroom/internal/core"
)

func errRateLimited(provider string) error {
	return core.NewError(core.ErrProviderRateLimited, provider+" rate limit exceeded", nil)
}

func errUnavailable(provider string, status int) error {
	return core.NewError(core.ErrProviderUnavailable, fmt.Sprintf("%s returned status %d", provider, status), nil)
}

func errInvalidResponse(provider, detail string) error {
	return core.NewError(core.ErrInvalidResponse, provider+": "+detail, nil)
}

// Transient classifies errors the adapter should retry per the configured
// back-off policy (spec §4.1): rate limited or upstream unavailable.
func Transient(err error) bool {
	switch core.KindOf(err) {
	case core.ErrProviderRateLimited, core.ErrProviderUnavailable:
		return true
	default:
		return false
	}
}
