package risk

import (
	"fmt"
	"strings"
	"time"

	"xiezhi/internal/models"
)

// Config 评估器可调参数。
type Config struct {
	// 各等级推荐审批超时（分钟）。
	TimeoutLowMinutes      int `yaml:"timeout_low_minutes" validate:"gte=0"`
	TimeoutMediumMinutes   int `yaml:"timeout_medium_minutes" validate:"gte=0"`
	TimeoutHighMinutes     int `yaml:"timeout_high_minutes" validate:"gte=0"`
	TimeoutCriticalMinutes int `yaml:"timeout_critical_minutes" validate:"gte=0"`
	// 减半后的下限。
	TimeoutFloorMinutes int           `yaml:"timeout_floor_minutes" validate:"gte=0"`
	BusinessHours       BusinessHours `yaml:"business_hours"`
}

// BusinessHours 工作时间；之外的动作计时间风险并缩短审批超时。
type BusinessHours struct {
	Days      []string `yaml:"days"`       // mon..sun，空为周一至周五
	StartHour int      `yaml:"start_hour" validate:"gte=0,lte=23"`
	EndHour   int      `yaml:"end_hour" validate:"gte=0,lte=24"`
	Timezone  string   `yaml:"timezone"`
}

// DefaultConfig 默认 60/30/15/10 分钟，下限 5 分钟，周一至周五 09:00-18:00 UTC。
func DefaultConfig() Config {
	return Config{
		TimeoutLowMinutes:      60,
		TimeoutMediumMinutes:   30,
		TimeoutHighMinutes:     15,
		TimeoutCriticalMinutes: 10,
		TimeoutFloorMinutes:    5,
		BusinessHours: BusinessHours{
			Days:      []string{"mon", "tue", "wed", "thu", "fri"},
			StartHour: 9,
			EndHour:   18,
			Timezone:  "UTC",
		},
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.TimeoutLowMinutes == 0 {
		c.TimeoutLowMinutes = d.TimeoutLowMinutes
	}
	if c.TimeoutMediumMinutes == 0 {
		c.TimeoutMediumMinutes = d.TimeoutMediumMinutes
	}
	if c.TimeoutHighMinutes == 0 {
		c.TimeoutHighMinutes = d.TimeoutHighMinutes
	}
	if c.TimeoutCriticalMinutes == 0 {
		c.TimeoutCriticalMinutes = d.TimeoutCriticalMinutes
	}
	if c.TimeoutFloorMinutes == 0 {
		c.TimeoutFloorMinutes = d.TimeoutFloorMinutes
	}
	if len(c.BusinessHours.Days) == 0 {
		c.BusinessHours.Days = d.BusinessHours.Days
	}
	if c.BusinessHours.StartHour == 0 && c.BusinessHours.EndHour == 0 {
		c.BusinessHours.StartHour, c.BusinessHours.EndHour = d.BusinessHours.StartHour, d.BusinessHours.EndHour
	}
	if c.BusinessHours.Timezone == "" {
		c.BusinessHours.Timezone = d.BusinessHours.Timezone
	}
	return c
}

func (c Config) timeoutFor(l models.RiskLevel) int {
	switch l {
	case models.RiskCritical:
		return c.TimeoutCriticalMinutes
	case models.RiskHigh:
		return c.TimeoutHighMinutes
	case models.RiskMedium:
		return c.TimeoutMediumMinutes
	}
	return c.TimeoutLowMinutes
}

var dayNames = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
	"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
}

type businessClock struct {
	days       map[time.Weekday]bool
	start, end int
	loc        *time.Location
}

func (b BusinessHours) compile() (businessClock, error) {
	loc, err := time.LoadLocation(b.Timezone)
	if err != nil {
		return businessClock{}, fmt.Errorf("risk: business_hours.timezone: %w", err)
	}
	if b.EndHour <= b.StartHour {
		return businessClock{}, fmt.Errorf("risk: business_hours: end_hour %d must be after start_hour %d", b.EndHour, b.StartHour)
	}
	bc := businessClock{days: make(map[time.Weekday]bool), start: b.StartHour, end: b.EndHour, loc: loc}
	for _, d := range b.Days {
		key := strings.ToLower(strings.TrimSpace(d))
		if len(key) > 3 {
			key = key[:3]
		}
		wd, ok := dayNames[key]
		if !ok {
			return businessClock{}, fmt.Errorf("risk: business_hours: unknown day %q", d)
		}
		bc.days[wd] = true
	}
	return bc, nil
}

// offHours 返回是否在工作时间外，以及是否在工作日外。
func (b businessClock) offHours(t time.Time) (offHours, offDays bool) {
	lt := t.In(b.loc)
	if !b.days[lt.Weekday()] {
		return true, true
	}
	h := lt.Hour()
	return h < b.start || h >= b.end, false
}
