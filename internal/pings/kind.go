package pings

import (
	"errors"
	"fmt"
	"strings"
)

// Kind is the closed set of notification kinds. An unrecognized kind is a
// caller programming error, never silently coerced.
type Kind string

const (
	// KindSplash is a lightweight appreciation reaction.
	KindSplash Kind = "splash"
	// KindEcho tells a wave owner someone echoed their wave.
	KindEcho Kind = "echo"
	// KindFollow tells a user someone joined their crew.
	KindFollow Kind = "follow"
	// KindMessage is a direct message notification.
	KindMessage Kind = "message"
	// KindSystemMessage is an operator-originated notice.
	KindSystemMessage Kind = "system_message"
	// KindFriendWentLive tells a follower their crew member started a tide.
	KindFriendWentLive Kind = "friend_went_live"
	// KindJoinedTide tells a host someone joined their live session.
	KindJoinedTide Kind = "joined_tide"
	// KindLeftCrew tells a user someone left their crew.
	KindLeftCrew Kind = "left_crew"
)

// SplashKind is the sub-kind carried by splash pings.
type SplashKind string

const (
	// SplashRegular is the default splash reaction.
	SplashRegular SplashKind = "regular"
	// SplashOctopusHug is the emphatic splash variant.
	SplashOctopusHug SplashKind = "octopus_hug"
)

// ErrInvalidPingKind indicates a kind outside the closed set.
var ErrInvalidPingKind = errors.New("pings: invalid ping kind")

var knownKinds = map[Kind]struct{}{
	KindSplash:         {},
	KindEcho:           {},
	KindFollow:         {},
	KindMessage:        {},
	KindSystemMessage:  {},
	KindFriendWentLive: {},
	KindJoinedTide:     {},
	KindLeftCrew:       {},
}

// Valid reports whether k is a member of the closed kind set.
func (k Kind) Valid() bool {
	_, ok := knownKinds[k]
	return ok
}

// ParseKind validates a raw kind token.
func ParseKind(value string) (Kind, error) {
	kind := Kind(strings.ToLower(strings.TrimSpace(value)))
	if !kind.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidPingKind, value)
	}
	return kind, nil
}

// ParseSplashKind validates a splash sub-kind, defaulting blank to regular.
func ParseSplashKind(value string) (SplashKind, error) {
	switch SplashKind(strings.ToLower(strings.TrimSpace(value))) {
	case SplashRegular, "":
		return SplashRegular, nil
	case SplashOctopusHug:
		return SplashOctopusHug, nil
	default:
		return "", fmt.Errorf("%w: splash sub-kind %q", ErrInvalidPingKind, value)
	}
}
