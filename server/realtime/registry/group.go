package registry

import (
	"strconv"
)

// GlobalAssignments is the feed every authenticated assignment connection joins.
const GlobalAssignments = "assignments:global"

// UserNotifications is the personal notification group of a user.
func UserNotifications(userID int64) string {
	return "notifications:user:" + strconv.FormatInt(userID, 10)
}

// TeamPlanning carries planning run progress for a team.
func TeamPlanning(teamID int64) string {
	return "planning:team:" + strconv.FormatInt(teamID, 10)
}

// TeamAssignments carries assignment changes for a team.
func TeamAssignments(teamID int64) string {
	return "assignments:team:" + strconv.FormatInt(teamID, 10)
}
