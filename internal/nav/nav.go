// Package nav maps each role to its navigation surface. Every place that
// used to switch on the role string (menus, welcome screen, default
// routing) consults this one table instead.
package nav

import "github.com/stemsi/exstem-portal/internal/model"

// MenuItem is one entry in a role's menu tree.
type MenuItem struct {
	Label string
	Route string
}

// Capability describes everything role-dependent in the portal shell.
type Capability struct {
	Label        string
	DefaultRoute string
	Menu         []MenuItem
}

var capabilities = map[model.Role]Capability{
	model.RoleStudent: {
		Label:        "Siswa",
		DefaultRoute: "/student/dashboard",
		Menu: []MenuItem{
			{Label: "Dasbor", Route: "/student/dashboard"},
			{Label: "Kursus Saya", Route: "/student/courses"},
			{Label: "Tugas", Route: "/student/assignments"},
			{Label: "Ujian", Route: "/student/exams"},
			{Label: "Kelas Langsung", Route: "/student/live"},
			{Label: "Pesan", Route: "/student/messages"},
		},
	},
	model.RoleInstructor: {
		Label:        "Pengajar",
		DefaultRoute: "/instructor/dashboard",
		Menu: []MenuItem{
			{Label: "Dasbor", Route: "/instructor/dashboard"},
			{Label: "Kursus", Route: "/instructor/courses"},
			{Label: "Bank Soal", Route: "/instructor/question-bank"},
			{Label: "Ujian", Route: "/instructor/exams"},
			{Label: "Jadwal Kelas", Route: "/instructor/live"},
			{Label: "Pesan", Route: "/instructor/messages"},
		},
	},
	model.RoleAdmin: {
		Label:        "Administrator",
		DefaultRoute: "/admin/dashboard",
		Menu: []MenuItem{
			{Label: "Dasbor", Route: "/admin/dashboard"},
			{Label: "Pengguna", Route: "/admin/users"},
			{Label: "Kursus", Route: "/admin/courses"},
			{Label: "Laporan", Route: "/admin/reports"},
			{Label: "Pengaturan", Route: "/admin/settings"},
		},
	},
}

// For returns the capability set for a role. Unknown roles get an empty
// capability (no menu, no default route), which renders as "nothing
// reachable" rather than granting anything.
func For(role model.Role) Capability {
	cap, ok := capabilities[role]
	if !ok {
		return Capability{}
	}
	return cap
}

// CanReach reports whether a route belongs to the role's menu tree or is
// its default route. The router redirects to DefaultRoute otherwise.
func CanReach(role model.Role, route string) bool {
	cap := For(role)
	if route == cap.DefaultRoute {
		return true
	}
	for _, item := range cap.Menu {
		if item.Route == route {
			return true
		}
	}
	return false
}
