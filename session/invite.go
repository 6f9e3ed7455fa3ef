package session

import (
	"fmt"
	"net/url"
	"strings"
)

// RoomParam is the query parameter carrying the room in an invite link.
const RoomParam = "room"

// InviteLink builds origin?room=<room>.
func InviteLink(origin, room string) string {
	return strings.TrimSuffix(origin, "/") + "?" + RoomParam + "=" + url.QueryEscape(room)
}

// ParsePage splits a page URL into its origin and the invited room, if any.
func ParsePage(pageURL string) (origin, room string, err error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		return "", "", fmt.Errorf("parse page url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", "", fmt.Errorf("parse page url: %q is not absolute", pageURL)
	}
	return u.Scheme + "://" + u.Host, u.Query().Get(RoomParam), nil
}
