package tuya

import (
	"fmt"

	"github.com/backkem/tuyalan/pkg/payload"
)

// Version is the Tuya LAN protocol version spoken by a device.
type Version int

const (
	// VersionUnset selects Version31 after defaults are applied.
	VersionUnset Version = iota
	Version31
	Version32
	Version33
	Version34
)

// versionHeaderPadding is the number of zero bytes after the version
// string in the protocol header.
const versionHeaderPadding = 12

// String returns the version as sent on the wire ("3.3").
func (v Version) String() string {
	switch v {
	case Version31:
		return "3.1"
	case Version32:
		return "3.2"
	case Version33:
		return "3.3"
	case Version34:
		return "3.4"
	default:
		return fmt.Sprintf("Version(%d)", int(v))
	}
}

// ParseVersion parses "3.1" through "3.4".
func ParseVersion(s string) (Version, error) {
	switch s {
	case "3.1":
		return Version31, nil
	case "3.2":
		return Version32, nil
	case "3.3":
		return Version33, nil
	case "3.4":
		return Version34, nil
	default:
		return VersionUnset, fmt.Errorf("%w: %q", ErrUnknownVersion, s)
	}
}

// IsValid reports whether v is one of the known versions.
func (v Version) IsValid() bool {
	return v >= Version31 && v <= Version34
}

// bytes returns the version string as bytes.
func (v Version) bytes() []byte {
	return []byte(v.String())
}

// header returns the version string followed by twelve zero bytes.
func (v Version) header() []byte {
	h := make([]byte, 0, 3+versionHeaderPadding)
	h = append(h, v.bytes()...)
	return append(h, make([]byte, versionHeaderPadding)...)
}

// usesHMAC reports whether frames carry an HMAC-SHA256 trailer and the
// session key must be negotiated.
func (v Version) usesHMAC() bool {
	return v == Version34
}

// defaultProfile returns the payload profile a device of this version
// starts with. 3.2 devices behave like 3.3 with the legacy profile.
func (v Version) defaultProfile() payload.Profile {
	switch v {
	case Version32:
		return payload.ProfileLegacy
	case Version34:
		return payload.ProfileSessionKey
	default:
		return payload.ProfileDefault
	}
}
