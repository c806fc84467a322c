package checklist

type Role string

const (
	RoleAdmin      Role = "admin"
	RoleSupervisor Role = "supervisor"
	RoleOperator   Role = "operator"
	RoleViewer     Role = "viewer"
)

// Permissions is the capability set for a (status, role) pair. The UI
// uses it to hide actions; the aggregate re-checks it on every mutating
// operation regardless of what the caller already validated.
type Permissions struct {
	CanAddItems            bool
	CanRemoveItem          bool
	CanConfirm             bool
	CanLock                bool
	CanRequestModification bool
	CanExport              bool
}

func PermissionsFor(status Status, role Role) Permissions {
	p := Permissions{CanExport: true}

	switch role {
	case RoleViewer:
		return p
	case RoleOperator:
		p.CanAddItems = status == StatusDraft
		p.CanRemoveItem = status == StatusDraft
		p.CanConfirm = status == StatusDraft
	case RoleSupervisor, RoleAdmin:
		p.CanAddItems = status == StatusDraft
		p.CanRemoveItem = status == StatusDraft
		p.CanConfirm = status == StatusDraft
		p.CanLock = status == StatusConfirmed
		p.CanRequestModification = status == StatusConfirmed || status == StatusLocked
	}

	return p
}
