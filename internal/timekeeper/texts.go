package timekeeper

// Reply texts.
const (
	DefaultReply = "Sorry but I didn't understand you. Please say `help` for more information."

	missedFinishText = "I think you missed to inform finishing the last one.\n" +
		"However I'll record you start your work now."
	missedStartText = "I think you missed to inform starting this work.\n" +
		"However I'll record you finish your work now."

	alreadyTrackingText = "I'm already tracking you."
	trackingText        = "OK, I will track you."
	notTrackingText     = "I didn't track you."
	untrackedText       = "OK, I won't track you any more."

	unknownTimezoneText = "Sorry but I can't recognize it. Maybe a typo?"
	timezoneUpdatedText = "OK, I updated your timezone."

	noTimesheetText       = "Sorry but I don't have your timesheet."
	noDailyTimesheetText  = "Sorry but I don't have your daily timesheet."
	timesheetComment      = "Here is your timesheet."
	dailyTimesheetComment = "Here is your daily timesheet."

	waitText             = "OK, wait a moment..."
	contributionsComment = "Here. Regardless of your timezone, each days are plotted in UTC."
)

// Attachment names.
const (
	timesheetFile      = "timesheet.md"
	dailyTimesheetFile = "daily_timesheet.md"
	contributionsFile  = "contributions.png"
)
