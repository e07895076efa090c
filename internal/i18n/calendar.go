package i18n

import "time"

var monthIDs = [...]string{
	"calendar.month.january",
	"calendar.month.february",
	"calendar.month.march",
	"calendar.month.april",
	"calendar.month.may",
	"calendar.month.june",
	"calendar.month.july",
	"calendar.month.august",
	"calendar.month.september",
	"calendar.month.october",
	"calendar.month.november",
	"calendar.month.december",
}

var weekdayIDs = [...]string{
	"calendar.weekday.sunday",
	"calendar.weekday.monday",
	"calendar.weekday.tuesday",
	"calendar.weekday.wednesday",
	"calendar.weekday.thursday",
	"calendar.weekday.friday",
	"calendar.weekday.saturday",
}

// MonthName returns the localized full name of m.
func MonthName(m time.Month) string {
	if m < time.January || m > time.December {
		return m.String()
	}
	return T(monthIDs[m-1], m.String())
}

// WeekdayName returns the localized full name of d.
func WeekdayName(d time.Weekday) string {
	if d < time.Sunday || d > time.Saturday {
		return d.String()
	}
	return T(weekdayIDs[d], d.String())
}

// MonthYear formats t as "March 2024" in the active locale.
func MonthYear(t time.Time) string {
	return Tf("calendar.monthYear", "%[1]s %[2]d", MonthName(t.Month()), t.Year())
}

// DayLabel formats a bucket date for a section header. Dates on the same
// calendar day as now, or the day before, get relative labels.
func DayLabel(day, now time.Time) string {
	y, m, d := day.Date()
	ny, nm, nd := now.Date()
	today := time.Date(ny, nm, nd, 0, 0, 0, 0, time.UTC)
	switch time.Date(y, m, d, 0, 0, 0, 0, time.UTC) {
	case today:
		return T("calendar.today", "Today")
	case today.AddDate(0, 0, -1):
		return T("calendar.yesterday", "Yesterday")
	}
	if y == ny {
		return Tf("calendar.dayOfYear", "%[1]s, %[2]s %[3]d",
			WeekdayName(day.Weekday()), MonthName(m), d)
	}
	return Tf("calendar.date", "%[1]s, %[2]s %[3]d, %[4]d",
		WeekdayName(day.Weekday()), MonthName(m), d, y)
}
