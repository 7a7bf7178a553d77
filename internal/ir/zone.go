package ir

import (
	"fmt"
	"slices"
	"strings"
)

// Zone is a named security posture. The order Normal < Sensitive < Ultra is
// for display only: transitions are decided by rules, never by rank.
type Zone int

const (
	// ZoneUnknown is the zero value and never a valid state.
	ZoneUnknown Zone = iota
	// ZoneNormal is the initial, lowest-trust posture.
	ZoneNormal
	// ZoneSensitive is entered for sensitive browsing or tooling.
	ZoneSensitive
	// ZoneUltra is the lock-holding posture tied to attached devices.
	ZoneUltra

	// ZoneAny is the wildcard accepted only as a rule's source zone.
	ZoneAny Zone = 100
)

// LockZone is the zone whose exit is gated on witness removal.
const LockZone = ZoneUltra

// Zones lists the concrete zones in display order.
var Zones = []Zone{ZoneNormal, ZoneSensitive, ZoneUltra}

var zoneNames = map[Zone]string{
	ZoneNormal:    "normal",
	ZoneSensitive: "sensitive",
	ZoneUltra:     "ultra",
	ZoneAny:       "*",
}

var zoneAliases = map[string]Zone{
	"normal":    ZoneNormal,
	"zone1":     ZoneNormal,
	"sensitive": ZoneSensitive,
	"zone2":     ZoneSensitive,
	"ultra":     ZoneUltra,
	"zone3":     ZoneUltra,
	"*":         ZoneAny,
	"any":       ZoneAny,
}

// String returns the canonical lowercase zone name.
func (z Zone) String() string {
	if name, ok := zoneNames[z]; ok {
		return name
	}
	return fmt.Sprintf("zone(%d)", int(z))
}

// Label returns the display name used in notifications ("Normal").
func (z Zone) Label() string {
	switch z {
	case ZoneNormal:
		return "Normal"
	case ZoneSensitive:
		return "Sensitive"
	case ZoneUltra:
		return "Ultra"
	default:
		return z.String()
	}
}

// Valid reports whether z is a concrete zone.
func (z Zone) Valid() bool {
	return z == ZoneNormal || z == ZoneSensitive || z == ZoneUltra
}

// Matches reports whether a rule source zone admits the current zone.
func (z Zone) Matches(current Zone) bool {
	return z == ZoneAny || z == current
}

// Spellings returns every lowercase name ParseZone maps to z, sorted.
func (z Zone) Spellings() []string {
	var out []string
	for name, zone := range zoneAliases {
		if zone == z {
			out = append(out, name)
		}
	}
	slices.Sort(out)
	return out
}

// ParseZone accepts canonical names, the legacy zone1..zone3 spelling and the
// wildcard, case-insensitively.
func ParseZone(s string) (Zone, error) {
	if z, ok := zoneAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return z, nil
	}
	return ZoneUnknown, fmt.Errorf("unknown zone %q: must be normal, sensitive, ultra or *", s)
}

// MarshalText implements encoding.TextMarshaler.
func (z Zone) MarshalText() ([]byte, error) {
	return []byte(z.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (z *Zone) UnmarshalText(text []byte) error {
	parsed, err := ParseZone(string(text))
	if err != nil {
		return err
	}
	*z = parsed
	return nil
}
