package fanout

import (
	"sort"
	"strings"

	"github.com/davechogan/agile-stories-v2/analyzer"
	"github.com/davechogan/agile-stories-v2/story"
)

// areaRoles maps implementation area keywords to estimation roles.
var areaRoles = map[string]string{
	"frontend":       "frontend_dev",
	"front-end":      "frontend_dev",
	"ui":             "frontend_dev",
	"backend":        "backend_dev",
	"back-end":       "backend_dev",
	"api":            "backend_dev",
	"database":       "backend_dev",
	"devops":         "devops_engineer",
	"infrastructure": "devops_engineer",
	"deployment":     "devops_engineer",
}

// RolesForReview derives the estimation team from a technical review's
// implementation areas. Areas that do not map to a registered estimation
// role are ignored; when nothing maps, the registry's full estimation
// team is dispatched so a vague review still gets estimated.
func RolesForReview(review story.TechReview, reg *analyzer.Registry) []string {
	seen := make(map[string]bool)
	var roles []string
	for _, impl := range review.Implementation {
		role, ok := areaRoles[strings.ToLower(strings.TrimSpace(impl.Area))]
		if !ok || !reg.Known(role) || seen[role] {
			continue
		}
		seen[role] = true
		roles = append(roles, role)
	}
	if len(roles) == 0 {
		return reg.EstimationTeam()
	}
	sort.Strings(roles)
	return roles
}
