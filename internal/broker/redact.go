package broker

import "net/url"

// Redact hides the password of a broker URL for logs and status output.
func Redact(address string) string {
	u, err := url.Parse(address)
	if err != nil || u.User == nil {
		return address
	}
	return u.Redacted()
}
