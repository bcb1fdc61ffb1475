package authority

// Approver is the outcome of approval resolution: either automatic or a role.
type Approver struct {
	Auto bool
	Role Role
}

// String renders the approver for logs and error messages.
func (a Approver) String() string {
	if a.Auto {
		return "auto"
	}
	return a.Role.DisplayName()
}

// Rule describes how a level is approved.
type Rule struct {
	AutoApproveFor       []Role
	RequiresApprovalFrom Role
}

// Rules is the approval table keyed by level.
var Rules = map[Level]Rule{
	LevelViewer:        {AutoApproveFor: []Role{RoleRequester}, RequiresApprovalFrom: RoleAdmin},
	LevelEditor:        {RequiresApprovalFrom: RoleAdmin},
	LevelMarketer:      {RequiresApprovalFrom: RoleAdmin},
	LevelAdministrator: {RequiresApprovalFrom: RoleSuperAdmin},
}

// RequiredApprover returns who must approve level when requested by requesterRole.
// Unknown levels resolve to Super Admin.
func RequiredApprover(level Level, requesterRole Role) Approver {
	rule, ok := Rules[level]
	if !ok {
		return Approver{Role: RoleSuperAdmin}
	}
	for _, role := range rule.AutoApproveFor {
		if role == requesterRole {
			return Approver{Auto: true}
		}
	}
	return Approver{Role: rule.RequiresApprovalFrom}
}

// CanApprove reports whether approverRole may approve level requested by requesterRole.
func CanApprove(approverRole Role, level Level, requesterRole Role) bool {
	required := RequiredApprover(level, requesterRole)
	if required.Auto {
		return true
	}
	return approverRole.Rank() >= required.Role.Rank()
}

// CanManageRole reports whether manager may administer principals holding target.
func CanManageRole(manager, target Role) bool {
	switch manager {
	case RoleSuperAdmin:
		return target.Valid()
	case RoleAdmin:
		return target == RoleRequester || target == RoleViewer
	default:
		return false
	}
}

// AtLeast returns roles whose rank is >= role, highest first.
func AtLeast(role Role) []Role {
	var out []Role
	for _, r := range Roles() {
		if r.Rank() >= role.Rank() {
			out = append(out, r)
		}
	}
	return out
}
