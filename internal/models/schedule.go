package models

const (
	ScheduleHourly  = "hourly"
	ScheduleDaily   = "daily"
	ScheduleWeekly  = "weekly"
	ScheduleMonthly = "monthly"
	ScheduleCron    = "cron"
)

// Schedule is a recurrence specification. Interval defaults to 1 when zero.
// Time is "HH:MM" in the scheduler's local time. DayOfWeek uses 0 for Sunday.
// Expression is a standard 5-field cron expression, used when Type is cron.
type Schedule struct {
	Type       string `json:"type"`
	Interval   int    `json:"interval,omitempty"`
	Time       string `json:"time,omitempty"`
	DayOfWeek  *int   `json:"day_of_week,omitempty"`
	DayOfMonth *int   `json:"day_of_month,omitempty"`
	Expression string `json:"expression,omitempty"`
}
