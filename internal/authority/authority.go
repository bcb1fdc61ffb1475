// Package authority resolves who may approve a permission level and how
// roles relate to each other. All functions are pure and safe for concurrent use.
package authority

import (
	"fmt"
	"strings"
)

// Role is the role a principal holds inside the engine.
type Role string

const (
	RoleSuperAdmin Role = "super_admin"
	RoleAdmin      Role = "admin"
	RoleRequester  Role = "requester"
	RoleViewer     Role = "viewer"
)

// Level is the permission tier held on an external resource.
type Level string

const (
	LevelViewer        Level = "viewer"
	LevelEditor        Level = "editor"
	LevelMarketer      Level = "marketer"
	LevelAdministrator Level = "administrator"
)

// hierarchy is the only place role ranks are defined.
var hierarchy = map[Role]int{
	RoleSuperAdmin: 4,
	RoleAdmin:      3,
	RoleRequester:  2,
	RoleViewer:     1,
}

var displayNames = map[Role]string{
	RoleSuperAdmin: "Super Admin",
	RoleAdmin:      "Admin",
	RoleRequester:  "Requester",
	RoleViewer:     "Viewer",
}

// levelRanks orders levels for downgrade and renewal comparisons.
var levelRanks = map[Level]int{
	LevelViewer:        1,
	LevelEditor:        2,
	LevelMarketer:      2,
	LevelAdministrator: 3,
}

// Rank returns the hierarchy rank of the role, zero when unknown.
func (r Role) Rank() int {
	return hierarchy[r]
}

// Valid reports whether the role belongs to the closed set.
func (r Role) Valid() bool {
	_, ok := hierarchy[r]
	return ok
}

// DisplayName returns the human readable role name.
func (r Role) DisplayName() string {
	if name, ok := displayNames[r]; ok {
		return name
	}
	return string(r)
}

// Valid reports whether the level belongs to the closed set.
func (l Level) Valid() bool {
	_, ok := levelRanks[l]
	return ok
}

// Rank orders levels; zero when unknown.
func (l Level) Rank() int {
	return levelRanks[l]
}

// Roles lists every role from highest to lowest rank.
func Roles() []Role {
	return []Role{RoleSuperAdmin, RoleAdmin, RoleRequester, RoleViewer}
}

// Levels lists every permission level.
func Levels() []Level {
	return []Level{LevelViewer, LevelEditor, LevelMarketer, LevelAdministrator}
}

// ParseRole normalises raw input into a Role.
func ParseRole(raw string) (Role, error) {
	role := Role(strings.ToLower(strings.TrimSpace(raw)))
	if !role.Valid() {
		return "", fmt.Errorf("authority: unknown role %q", raw)
	}
	return role, nil
}

// ParseLevel normalises raw input into a Level.
func ParseLevel(raw string) (Level, error) {
	level := Level(strings.ToLower(strings.TrimSpace(raw)))
	if !level.Valid() {
		return "", fmt.Errorf("authority: unknown level %q", raw)
	}
	return level, nil
}
