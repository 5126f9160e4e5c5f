package models

import "time"

// DayType classifies a calendar date for template matching.
type DayType string

const (
	DayWeekday  DayType = "WEEKDAY"
	DaySaturday DayType = "SATURDAY"
	DaySunday   DayType = "SUNDAY"
)

func (d DayType) Valid() bool {
	switch d {
	case DayWeekday, DaySaturday, DaySunday:
		return true
	}
	return false
}

// DayTypeOf classifies date by its weekday.
func DayTypeOf(date time.Time) DayType {
	switch date.Weekday() {
	case time.Sunday:
		return DaySunday
	case time.Saturday:
		return DaySaturday
	default:
		return DayWeekday
	}
}

type TimesheetTemplate struct {
	ID        uint              `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
	UserID    uint              `gorm:"not null;index" json:"user_id"`
	Name      string            `gorm:"not null;size:100" json:"name"`
	Patterns  []TemplatePattern `gorm:"foreignKey:TemplateID;constraint:OnDelete:CASCADE" json:"patterns"`
}

// Pattern returns the pattern for the day type, if any.
func (t *TimesheetTemplate) Pattern(day DayType) (TemplatePattern, bool) {
	for _, p := range t.Patterns {
		if p.DayType == day {
			return p, true
		}
	}
	return TemplatePattern{}, false
}

// TemplatePattern holds clock times as "HH:MM".
type TemplatePattern struct {
	ID         uint    `gorm:"primaryKey" json:"id"`
	TemplateID uint    `gorm:"not null;uniqueIndex:idx_pattern_day" json:"template_id"`
	DayType    DayType `gorm:"not null;size:10;uniqueIndex:idx_pattern_day" json:"day_type"`
	In1        *string `gorm:"size:5" json:"in1"`
	Out1       *string `gorm:"size:5" json:"out1"`
	In2        *string `gorm:"size:5" json:"in2"`
	Out2       *string `gorm:"size:5" json:"out2"`
	In3        *string `gorm:"size:5" json:"in3"`
	Out3       *string `gorm:"size:5" json:"out3"`
	Comments   string  `gorm:"size:1000" json:"comments"`
}

// Clocks returns the six clock fields in in1, out1, ... order.
func (p *TemplatePattern) Clocks() [6]*string {
	return [6]*string{p.In1, p.Out1, p.In2, p.Out2, p.In3, p.Out3}
}
