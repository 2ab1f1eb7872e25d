package auth

// Permission names checked by the HTTP layer. The catalog rows are seeded by migrations.
const (
	PermCardsView   = "cards.view"
	PermCardsCreate = "cards.create"
	PermCardsEdit   = "cards.edit"
	PermCardsDelete = "cards.delete"

	PermCardUsersView   = "card_users.view"
	PermCardUsersManage = "card_users.manage"

	PermReportsView   = "reports.view"
	PermReportsCreate = "reports.create"
	PermReportsDelete = "reports.delete"

	PermUsersView   = "users.view"
	PermUsersCreate = "users.create"
	PermUsersEdit   = "users.edit"

	PermPermissionsView   = "permissions.view"
	PermPermissionsManage = "permissions.manage"
)

// Well-known role names.
const (
	RoleSuperAdmin = "super_admin"
	RoleAdmin      = "admin"
	RoleManager    = "manager"
	RoleOperator   = "operator"
)

var BuiltinPermissions = []Permission{
	{Name: PermCardsView, DisplayName: "View cards", Category: "cards", State: StateActive},
	{Name: PermCardsCreate, DisplayName: "Create cards", Category: "cards", State: StateActive},
	{Name: PermCardsEdit, DisplayName: "Edit cards", Category: "cards", State: StateActive},
	{Name: PermCardsDelete, DisplayName: "Delete cards", Category: "cards", State: StateActive},
	{Name: PermCardUsersView, DisplayName: "View card users", Category: "card_users", State: StateActive},
	{Name: PermCardUsersManage, DisplayName: "Manage card users", Category: "card_users", State: StateActive},
	{Name: PermReportsView, DisplayName: "View reports", Category: "reports", State: StateActive},
	{Name: PermReportsCreate, DisplayName: "Create reports", Category: "reports", State: StateActive},
	{Name: PermReportsDelete, DisplayName: "Delete reports", Category: "reports", State: StateActive},
	{Name: PermUsersView, DisplayName: "View users", Category: "users", State: StateActive},
	{Name: PermUsersCreate, DisplayName: "Create users", Category: "users", State: StateActive},
	{Name: PermUsersEdit, DisplayName: "Edit users", Category: "users", State: StateActive},
	{Name: PermPermissionsView, DisplayName: "View permissions", Category: "permissions", State: StateActive},
	{Name: PermPermissionsManage, DisplayName: "Manage permissions", Category: "permissions", State: StateActive},
}

// OperatorPermissions is the default grant for level-1 operator accounts.
var OperatorPermissions = []string{
	PermCardsView, PermCardsCreate, PermCardsEdit, PermCardsDelete,
	PermCardUsersView, PermCardUsersManage,
	PermReportsView, PermReportsCreate, PermReportsDelete,
}

// RoleSeed describes a role created on first start.
type RoleSeed struct {
	Name        string
	DisplayName string
	Level       int
	System      bool
	Permissions []string
}

func allPermissionNames() []string {
	names := make([]string, 0, len(BuiltinPermissions))
	for _, p := range BuiltinPermissions {
		names = append(names, p.Name)
	}
	return names
}

var BuiltinRoles = []RoleSeed{
	{Name: RoleSuperAdmin, DisplayName: "Super administrator", Level: DefaultSuperAdminLevel, System: true, Permissions: allPermissionNames()},
	{Name: RoleAdmin, DisplayName: "Administrator", Level: DefaultAdminLevel, System: true, Permissions: allPermissionNames()},
	{Name: RoleManager, DisplayName: "Manager", Level: 5, Permissions: append(append([]string{}, OperatorPermissions...), PermUsersView, PermPermissionsView)},
	{Name: RoleOperator, DisplayName: "Operator", Level: 1, Permissions: OperatorPermissions},
}
