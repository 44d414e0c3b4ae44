// Package access maps roles to capability sets.
package access

import "bintrade-core/pkg/db"

// Capability is a single permission checked by handlers and services.
type Capability string

const (
	CanManageTransactions     Capability = "manage_transactions"
	CanSetPredeterminedResult Capability = "set_predetermined_result"
	CanViewAllTrades          Capability = "view_all_trades"
	CanSettleAnyTrade         Capability = "settle_any_trade"
	CanManageUsers            Capability = "manage_users"
	CanManageSettings         Capability = "manage_settings"
	CanViewMetrics            Capability = "view_metrics"
)

// Set is an immutable capability set.
type Set map[Capability]struct{}

func newSet(caps ...Capability) Set {
	s := make(Set, len(caps))
	for _, c := range caps {
		s[c] = struct{}{}
	}
	return s
}

var staff = []Capability{
	CanManageTransactions,
	CanSetPredeterminedResult,
	CanViewAllTrades,
	CanSettleAnyTrade,
}

var roles = map[string]Set{
	db.RoleUser:  newSet(),
	db.RoleAgent: newSet(staff...),
	db.RoleAdmin: newSet(append([]Capability{CanManageUsers, CanManageSettings, CanViewMetrics}, staff...)...),
}

// For returns the capabilities of role. Unknown roles get none.
func For(role string) Set {
	if s, ok := roles[role]; ok {
		return s
	}
	return Set{}
}

// Has reports whether the set grants c.
func (s Set) Has(c Capability) bool {
	_, ok := s[c]
	return ok
}

// Can is shorthand for For(role).Has(c).
func Can(role string, c Capability) bool {
	return For(role).Has(c)
}

// ValidRole reports whether role is one of the known roles.
func ValidRole(role string) bool {
	_, ok := roles[role]
	return ok
}
