package workpointsync

import (
	"context"
	"time"
)

// Session is an explicit WorkPoint session token. It is passed around by
// value; there is no process-wide token cache.
type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// sessionExpirySkew refreshes tokens slightly early so an in-flight request
// never carries a token that expires mid-request.
const sessionExpirySkew = 30 * time.Second

func (s Session) validAt(now time.Time) bool {
	return s.Token != "" && now.Add(sessionExpirySkew).Before(s.ExpiresAt)
}

// EnsureValidSession returns the session unchanged while it is still valid,
// otherwise acquires a fresh one. Callers thread the returned session into
// the next call.
func (c *Client) EnsureValidSession(ctx context.Context, session Session) (Session, error) {
	if session.validAt(c.now()) {
		return session, nil
	}
	return c.acquireSession(ctx)
}
