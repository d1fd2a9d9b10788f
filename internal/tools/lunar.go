package tools

import "fmt"

// Chinese lunar calendar conversion for the result_for_context tool's
// "today's lunar date" enrichment (SUPPLEMENTED FEATURES item 3). No
// example repo in the retrieval pack ships a lunar-calendar library
// (the Python original depends on a package not available to this
// module's ecosystem), so this is a from-scratch, table-based
// implementation of the standard solar<->lunar algorithm, with a table
// covering lunar years 1900-2050;
// see DESIGN.md for why this is the one ambient-stack piece built on
// the standard library alone.
//
// lunarInfo[y-1900] packs, per lunar year: bits 0-3 the leap month
// number (0 = none), bits 4-15 one bit per month (month 1 at bit 15
// down to month 12 at bit 4) marking a 30-day ("big") month, and bit
// 16 (0x10000) set when the leap month has 30 days rather than 29.
var lunarInfo = [151]uint32{
	0x04bd8, 0x04ae0, 0x0a570, 0x054d5, 0x0d260, 0x0d950, 0x16554, 0x056a0, 0x09ad0, 0x055d2,
	0x04ae0, 0x0a5b6, 0x0a4d0, 0x0d250, 0x1d255, 0x0b540, 0x0d6a0, 0x0ada2, 0x095b0, 0x14977,
	0x04970, 0x0a4b0, 0x0b4b5, 0x06a50, 0x06d40, 0x1ab54, 0x02b60, 0x09570, 0x052f2, 0x04970,
	0x06566, 0x0d4a0, 0x0ea50, 0x06e95, 0x05ad0, 0x02b60, 0x186e3, 0x092e0, 0x1c8d7, 0x0c950,
	0x0d4a0, 0x1d8a6, 0x0b550, 0x056a0, 0x1a5b4, 0x025d0, 0x092d0, 0x0d2b2, 0x0a950, 0x0b557,
	0x06ca0, 0x0b550, 0x15355, 0x04da0, 0x0a5b0, 0x14573, 0x052b0, 0x0a9a8, 0x0e950, 0x06aa0,
	0x0aea6, 0x0ab50, 0x04b60, 0x0aae4, 0x0a570, 0x05260, 0x0f263, 0x0d950, 0x05b57, 0x056a0,
	0x096d0, 0x04dd5, 0x04ad0, 0x0a4d0, 0x0d4d4, 0x0d250, 0x0d558, 0x0b540, 0x0b5a0, 0x195a6,
	0x095b0, 0x049b0, 0x0a974, 0x0a4b0, 0x0b27a, 0x06a50, 0x06d40, 0x0af46, 0x0ab60, 0x09570,
	0x04af5, 0x04970, 0x064b0, 0x074a3, 0x0ea50, 0x06b58, 0x055c0, 0x0ab60, 0x096d5, 0x092e0,
	0x0c960, 0x0d954, 0x0d4a0, 0x0da50, 0x07552, 0x056a0, 0x0abb7, 0x025d0, 0x092d0, 0x0cab5,
	0x0a950, 0x0b4a0, 0x0baa4, 0x0ad50, 0x055d9, 0x04ba0, 0x0a5b0, 0x15176, 0x052b0, 0x0a930,
	0x07954, 0x06aa0, 0x0ad50, 0x05b52, 0x04b60, 0x0a6e6, 0x0a4e0, 0x0d260, 0x0ea65, 0x0d530,
	0x05aa0, 0x076a3, 0x096d0, 0x04afb, 0x04ad0, 0x0a4d0, 0x1d0b6, 0x0d250, 0x0d520, 0x0dd45,
	0x0b5a0, 0x056d0, 0x055b2, 0x049b0, 0x0a577, 0x0a4b0, 0x0aa50, 0x1b255, 0x06d20, 0x0ada0,
	0x14b63,
}

const lunarBaseYear = 1900

// lunarYearDays returns the total number of days in lunar year y.
func lunarYearDays(y int) int {
	sum := 348
	info := lunarInfo[y-lunarBaseYear]
	for i := uint32(0x8000); i > 0x8; i >>= 1 {
		if info&i != 0 {
			sum += 1
		}
	}
	return sum + leapDays(y)
}

// leapMonth returns the leap month number for year y, or 0 if none.
func leapMonth(y int) int {
	return int(lunarInfo[y-lunarBaseYear] & 0xf)
}

// leapDays returns the number of days in year y's leap month, 0 if none.
func leapDays(y int) int {
	if leapMonth(y) == 0 {
		return 0
	}
	if lunarInfo[y-lunarBaseYear]&0x10000 != 0 {
		return 30
	}
	return 29
}

// monthDays returns the number of days in lunar month m of year y.
func monthDays(y, m int) int {
	if m > 12 || m < 1 {
		return 29
	}
	if lunarInfo[y-lunarBaseYear]&(0x10000>>uint(m)) != 0 {
		return 30
	}
	return 29
}

var lunarDayNames = [...]string{
	"初一", "初二", "初三", "初四", "初五", "初六", "初七", "初八", "初九", "初十",
	"十一", "十二", "十三", "十四", "十五", "十六", "十七", "十八", "十九", "二十",
	"廿一", "廿二", "廿三", "廿四", "廿五", "廿六", "廿七", "廿八", "廿九", "三十",
}

var lunarMonthNames = [...]string{
	"正月", "二月", "三月", "四月", "五月", "六月",
	"七月", "八月", "九月", "十月", "冬月", "腊月",
}

var ganNames = [...]string{"甲", "乙", "丙", "丁", "戊", "己", "庚", "辛", "壬", "癸"}
var zhiNames = [...]string{"子", "丑", "寅", "卯", "辰", "巳", "午", "未", "申", "酉", "戌", "亥"}

// solarDaysFrom1900 is a minimal Gregorian-day-count epoch helper: days
// elapsed from 1900-01-31 (the lunar epoch used by lunarInfo) to the
// given Gregorian date, computed via the standard library's calendar
// arithmetic rather than reimplementing it.
func solarDaysFrom1900(year, month, day int) int {
	epoch := daysSinceEpoch(1900, 1, 31)
	target := daysSinceEpoch(year, month, day)
	return target - epoch
}

// daysSinceEpoch counts days from a fixed proleptic-Gregorian epoch
// using civil_from_days-style integer arithmetic (Howard Hinnant's
// algorithm), avoiding a time.Time round-trip for years outside its
// convenient range.
func daysSinceEpoch(y, m, d int) int {
	y -= boolToInt(m <= 2)
	era := y / 400
	if y < 0 {
		era = (y - 399) / 400
	}
	yoe := y - era*400
	var mp int
	if m > 2 {
		mp = m - 3
	} else {
		mp = m + 9
	}
	doy := (153*mp+2)/5 + d - 1
	doe := yoe*365 + yoe/4 - yoe/100 + doy
	return era*146097 + doe - 719468
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// LunarDate is the enrichment emitted into the result_for_context
// prompt: the Gan-Zhi year name and the lunar month/day in the
// traditional Chinese numeral form.
type LunarDate struct {
	YearName  string // e.g. "乙巳"
	MonthName string // e.g. "六月", prefixed with "闰" if a leap month
	DayName   string // e.g. "十六"
}

// String renders "乙巳年六月十六".
func (l LunarDate) String() string {
	return fmt.Sprintf("%s年%s%s", l.YearName, l.MonthName, l.DayName)
}

// ToLunar converts a Gregorian (year, month, day) to its lunar
// equivalent. Valid for years 1900-2050 inclusive; out-of-range dates
// return the zero value.
func ToLunar(year, month, day int) LunarDate {
	if year < lunarBaseYear || year > lunarBaseYear+len(lunarInfo)-1 {
		return LunarDate{}
	}

	offset := solarDaysFrom1900(year, month, day)
	if offset < 0 {
		return LunarDate{}
	}

	lYear := lunarBaseYear
	var daysInYear int
	for lYear = lunarBaseYear; lYear <= lunarBaseYear+len(lunarInfo)-1; lYear++ {
		daysInYear = lunarYearDays(lYear)
		if offset < daysInYear {
			break
		}
		offset -= daysInYear
	}

	leap := leapMonth(lYear)
	isLeap := false
	leapDone := false
	lMonth := 1
	for lMonth = 1; lMonth <= 12; lMonth++ {
		var days int
		if leap > 0 && lMonth == leap+1 && !leapDone {
			lMonth--
			isLeap = true
			leapDone = true
			days = leapDays(lYear)
		} else {
			days = monthDays(lYear, lMonth)
		}
		if isLeap && lMonth == leap {
			// consuming the leap month itself
		}
		if offset < days {
			break
		}
		offset -= days
		if isLeap && lMonth == leap {
			isLeap = false
		}
	}
	lDay := offset + 1

	ganIdx := (lYear - 4) % 10
	zhiIdx := (lYear - 4) % 12
	yearName := ganNames[ganIdx] + zhiNames[zhiIdx]

	monthName := lunarMonthNames[(lMonth-1)%12]
	if isLeap {
		monthName = "闰" + monthName
	}

	dayName := "三十"
	if lDay >= 1 && lDay <= 30 {
		dayName = lunarDayNames[lDay-1]
	}

	return LunarDate{YearName: yearName, MonthName: monthName, DayName: dayName}
}
