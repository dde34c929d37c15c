package model

type ChildStats struct {
	ChildID         string `json:"child_id"`
	ChildName       string `json:"child_name"`
	TotalPoints     int    `json:"total_points"`
	WeeklyPoints    int    `json:"weekly_points"`
	CompletedChores int    `json:"completed_chores"`
	PendingChores   int    `json:"pending_chores"`
}

type DashboardSummary struct {
	TodayAssigned     int          `json:"today_assigned"`
	TodayCompleted    int          `json:"today_completed"`
	ThisWeekAssigned  int          `json:"this_week_assigned"`
	ThisWeekCompleted int          `json:"this_week_completed"`
	PendingApprovals  int          `json:"pending_approvals"`
	ChildrenStats     []ChildStats `json:"children_stats"`
}
