package config

// PermissionEffect is the result of a permission lookup.
type PermissionEffect string

const (
	// PermissionAllow explicitly grants an actor use of a tool.
	PermissionAllow PermissionEffect = "allow"
	// PermissionDeny explicitly forbids an actor from using a tool.
	PermissionDeny PermissionEffect = "deny"
	// PermissionUnspecified means no rule matched. The dispatcher treats this
	// as allow (fail-open) per spec.
	PermissionUnspecified PermissionEffect = "unspecified"
)

// ActorRole is an actor's privilege level, used by the state machine's actor
// scoping and the dispatcher's read-only guard.
type ActorRole string

const (
	// ActorRoleMaster may use the scoped bypass that skips row-level
	// enforcement, and may override checklist-fail gating on mark_done.
	ActorRoleMaster ActorRole = "master"
	// ActorRoleStandard is a normal agent actor.
	ActorRoleStandard ActorRole = "standard"
	// ActorRoleReadOnly may only invoke read-only tools; any write keyword in
	// execute_sql is rejected regardless of classification.
	ActorRoleReadOnly ActorRole = "read_only"
)

// IsValid reports whether the role is one of the known values.
func (r ActorRole) IsValid() bool {
	switch r {
	case ActorRoleMaster, ActorRoleStandard, ActorRoleReadOnly:
		return true
	default:
		return false
	}
}
