package ledger

import (
	"fmt"
	"strings"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeUser AccountScope = iota
	AccountScopeSystem
	AccountScopeExternal
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// User sub-types
	SubTypeWallet AccountSubType = iota
	SubTypeCollSurplus

	// System sub-types
	SubTypeActivePool
	SubTypeDefaultPool
	SubTypeStabilityPool
	SubTypeFees

	// External sub-types
	SubTypeCustody
	SubTypeIssuance
)

// DebtToken is the shared stablecoin minted against every collateral asset.
const DebtToken = "USDF"

// DebtAsset names the ledger asset that tracks outstanding debt recorded
// against one collateral asset. It is not a transferable token: it only moves
// between the pools and external:issuance.
func DebtAsset(collateral string) string {
	return collateral + ".debt"
}

// AccountKey identifies a balance. Entity is the owner identity string for
// user accounts and empty otherwise.
type AccountKey struct {
	Scope   AccountScope
	Entity  string
	SubType AccountSubType
	Asset   string
}

// NewUserAccountKey creates a key for user accounts
func NewUserAccountKey(entity string, subType AccountSubType, asset string) AccountKey {
	return AccountKey{
		Scope:   AccountScopeUser,
		Entity:  entity,
		SubType: subType,
		Asset:   asset,
	}
}

// NewSystemAccountKey creates a key for system accounts
func NewSystemAccountKey(subType AccountSubType, asset string) AccountKey {
	return AccountKey{
		Scope:   AccountScopeSystem,
		SubType: subType,
		Asset:   asset,
	}
}

// NewExternalAccountKey creates a key for external boundary accounts
func NewExternalAccountKey(subType AccountSubType, asset string) AccountKey {
	return AccountKey{
		Scope:   AccountScopeExternal,
		SubType: subType,
		Asset:   asset,
	}
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	switch k.Scope {
	case AccountScopeUser:
		return fmt.Sprintf("user:%s:%s:%s", k.Entity, k.SubType, k.Asset)
	case AccountScopeSystem:
		return fmt.Sprintf("system:%s:%s", k.SubType, k.Asset)
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s:%s", k.SubType, k.Asset)
	}
	return "unknown"
}

// ParseAccountPath is the inverse of AccountPath.
func ParseAccountPath(path string) (AccountKey, error) {
	parts := strings.Split(path, ":")
	switch {
	case len(parts) >= 4 && parts[0] == "user":
		// Entity may itself contain ':' (e.g. "address:0x..").
		entity := strings.Join(parts[1:len(parts)-2], ":")
		sub, ok := parseSubType(parts[len(parts)-2])
		if !ok {
			break
		}
		return NewUserAccountKey(entity, sub, parts[len(parts)-1]), nil
	case len(parts) == 3 && parts[0] == "system":
		sub, ok := parseSubType(parts[1])
		if !ok {
			break
		}
		return NewSystemAccountKey(sub, parts[2]), nil
	case len(parts) == 3 && parts[0] == "external":
		sub, ok := parseSubType(parts[1])
		if !ok {
			break
		}
		return NewExternalAccountKey(sub, parts[2]), nil
	}
	return AccountKey{}, fmt.Errorf("invalid account path %q", path)
}

func (s AccountSubType) String() string {
	switch s {
	case SubTypeWallet:
		return "wallet"
	case SubTypeCollSurplus:
		return "coll_surplus"
	case SubTypeActivePool:
		return "active_pool"
	case SubTypeDefaultPool:
		return "default_pool"
	case SubTypeStabilityPool:
		return "stability_pool"
	case SubTypeFees:
		return "fees"
	case SubTypeCustody:
		return "custody"
	case SubTypeIssuance:
		return "issuance"
	default:
		return "unknown"
	}
}

func parseSubType(s string) (AccountSubType, bool) {
	for st := SubTypeWallet; st <= SubTypeIssuance; st++ {
		if st.String() == s {
			return st, true
		}
	}
	return 0, false
}
