package rbac

import "testing"

func TestCan(t *testing.T) {
	cases := []struct {
		name   string
		role   Role
		action Action
		allow  bool
	}{
		{name: "client read", role: RoleClient, action: ActionChecklistRead, allow: true},
		{name: "client write", role: RoleClient, action: ActionChecklistWrite, allow: true},
		{name: "client verify", role: RoleClient, action: ActionVerifyRun, allow: false},
		{name: "collaborator verify", role: RoleCollaborator, action: ActionVerifyRun, allow: true},
		{name: "collaborator users", role: RoleCollaborator, action: ActionUsersManage, allow: false},
		{name: "admin users", role: RoleAdmin, action: ActionUsersManage, allow: true},
		{name: "admin superadmin", role: RoleAdmin, action: ActionManageSuperuser, allow: false},
		{name: "superadmin superadmin", role: RoleSuperadmin, action: ActionManageSuperuser, allow: true},
		{name: "unknown role", role: Role("owner"), action: ActionChecklistRead, allow: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Can(tc.role, tc.action); got != tc.allow {
				t.Fatalf("Can(%q, %q) = %v, want %v", tc.role, tc.action, got, tc.allow)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	if got := Normalize("admin"); got != RoleAdmin {
		t.Fatalf("Normalize(admin) = %q", got)
	}
	for _, raw := range []string{"", "editor", "Admin", "root"} {
		if got := Normalize(raw); got != RoleClient {
			t.Fatalf("Normalize(%q) = %q, want client", raw, got)
		}
	}
}
