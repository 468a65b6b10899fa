package state

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// IdentityKind distinguishes externally owned addresses from contracts.
type IdentityKind uint8

const (
	KindAddress IdentityKind = iota
	KindContract
)

func (k IdentityKind) String() string {
	switch k {
	case KindAddress:
		return "address"
	case KindContract:
		return "contract"
	default:
		return "unknown"
	}
}

// Identity owns troves. It is compared for equality only; list order never
// depends on it.
type Identity struct {
	Kind IdentityKind
	ID   common.Hash
}

// ZeroIdentity is the sorted-list sentinel.
var ZeroIdentity = Identity{}

func Address(h common.Hash) Identity  { return Identity{Kind: KindAddress, ID: h} }
func Contract(h common.Hash) Identity { return Identity{Kind: KindContract, ID: h} }

func (id Identity) IsZero() bool {
	return id == ZeroIdentity
}

// String renders "address:0x..." or "contract:0x...".
func (id Identity) String() string {
	return id.Kind.String() + ":" + id.ID.Hex()
}

// key is the compact storage key form.
func (id Identity) key() string {
	return fmt.Sprintf("%d%x", id.Kind, id.ID[:])
}

// ParseIdentity is the inverse of String. Short hex payloads are left-padded.
func ParseIdentity(s string) (Identity, error) {
	kind, hexPart, ok := strings.Cut(s, ":")
	if !ok {
		return Identity{}, fmt.Errorf("identity %q: missing kind prefix", s)
	}
	if !strings.HasPrefix(hexPart, "0x") || len(hexPart) > 66 || !isHex(hexPart[2:]) {
		return Identity{}, fmt.Errorf("identity %q: invalid hex payload", s)
	}
	h := common.HexToHash(hexPart)
	switch kind {
	case "address":
		return Address(h), nil
	case "contract":
		return Contract(h), nil
	}
	return Identity{}, fmt.Errorf("identity %q: unknown kind %q", s, kind)
}

func isHex(s string) bool {
	for _, c := range s {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F') {
			return false
		}
	}
	return true
}

// MarshalText lets identities appear directly in JSON and YAML.
func (id Identity) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *Identity) UnmarshalText(b []byte) error {
	parsed, err := ParseIdentity(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
