package rbac

// Decision classifies the outcome of a guard evaluation. Denial is a
// control-flow outcome, not an error; the HTTP layer maps each variant to a
// redirect target.
type Decision int

const (
	// Granted means the request may proceed to the protected view.
	Granted Decision = iota
	// DeniedUnauthenticated means no signed-in identity was present.
	DeniedUnauthenticated
	// DeniedUnauthorized means the identity lacks every required role.
	DeniedUnauthorized
)

// String returns the decision tag for logging.
func (d Decision) String() string {
	switch d {
	case Granted:
		return "granted"
	case DeniedUnauthenticated:
		return "denied-unauthenticated"
	case DeniedUnauthorized:
		return "denied-unauthorized"
	}
	return "unknown"
}

// Allowed reports whether an identity holding effective may access a resource
// requiring any of required. An empty required set means authentication alone
// suffices. A non-empty set is satisfied by any single overlapping role, never
// by demanding all of them.
//
// Callers must only invoke this once the effective set has settled; an errored
// or unresolved fetch is represented upstream as the empty set, which denies
// every non-empty requirement.
func Allowed(effective RoleSet, required []Role) bool {
	if len(required) == 0 {
		return true
	}
	for _, r := range required {
		if effective.Has(r) {
			return true
		}
	}
	return false
}

// Evaluate folds the authentication check and the role check into a single
// ordered decision: authentication is always checked before role content.
func Evaluate(authenticated bool, effective RoleSet, required []Role) Decision {
	if !authenticated {
		return DeniedUnauthenticated
	}
	if !Allowed(effective, required) {
		return DeniedUnauthorized
	}
	return Granted
}
