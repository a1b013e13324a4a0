package timing

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/specialistvlad/tickgraph/internal/node"
	"github.com/zclconf/go-cty/cty"
)

// DefaultScheduleWindow is the dedup window of a schedule.
const DefaultScheduleWindow = time.Minute

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday, "wed": time.Wednesday,
	"thu": time.Thursday, "fri": time.Friday, "sat": time.Saturday,
}

// ScheduleProps configure a schedule. At is "HH:MM" in Location; an empty
// Days list matches every day.
type ScheduleProps struct {
	At       string   `json:"at"`
	Days     []string `json:"days,omitempty"`
	Location string   `json:"location,omitempty"`
	Check    Duration `json:"check"`
	Window   Duration `json:"window"`
	// LastFired persists the dedup window across restarts.
	LastFired time.Time `json:"lastFired,omitempty"`
}

// Schedule fires a momentary true on "fire" when the wall clock matches
// At on one of Days. It fires at most once per Window.
type Schedule struct {
	env   node.Env
	props ScheduleProps
}

// NewSchedule builds a schedule checking every 15 seconds.
func NewSchedule(env node.Env) *Schedule {
	return &Schedule{env: env, props: ScheduleProps{
		At:     "00:00",
		Check:  Duration(15 * time.Second),
		Window: Duration(DefaultScheduleWindow),
	}}
}

func (s *Schedule) Ports() node.Ports {
	return node.Ports{Outputs: []node.Socket{
		node.Out("fire", cty.Bool),
		node.Out("lastFired", cty.String),
	}}
}

// Matches reports whether t falls in the scheduled minute.
func (s *Schedule) Matches(t time.Time) (bool, error) {
	loc := time.UTC
	if s.props.Location != "" {
		l, err := time.LoadLocation(s.props.Location)
		if err != nil {
			return false, fmt.Errorf("load location: %w", err)
		}
		loc = l
	}
	t = t.In(loc)
	if t.Format("15:04") != s.props.At {
		return false, nil
	}
	if len(s.props.Days) == 0 {
		return true, nil
	}
	for _, d := range s.props.Days {
		wd, ok := weekdays[strings.ToLower(d)[:min(3, len(d))]]
		if ok && wd == t.Weekday() {
			return true, nil
		}
	}
	return false, nil
}

func (s *Schedule) Data(context.Context, node.Inputs) (node.Outputs, error) {
	if _, err := time.Parse("15:04", s.props.At); err != nil {
		return nil, fmt.Errorf("invalid time of day %q: %w", s.props.At, err)
	}
	if !s.env.Timers.Active("check") {
		check := s.props.Check.D()
		if check <= 0 {
			check = 15 * time.Second
		}
		s.env.Timers.Every("check", check, func() {})
	}

	now := s.env.Clock.Now()
	ok, err := s.Matches(now)
	if err != nil {
		return nil, err
	}
	fire := ok && (s.props.LastFired.IsZero() || now.Sub(s.props.LastFired) >= s.props.Window.D())
	if fire {
		s.props.LastFired = now
		s.env.Logger.Info("Schedule fired.", "at", s.props.At)
		s.env.Notify()
	}

	last := ""
	if !s.props.LastFired.IsZero() {
		last = s.props.LastFired.Format(time.RFC3339)
	}
	return node.Outputs{"fire": fire, "lastFired": last}, nil
}

func (s *Schedule) Serialize() (json.RawMessage, error) { return node.Save(s.props) }

func (s *Schedule) Restore(raw json.RawMessage) error {
	if err := node.Load(raw, &s.props); err != nil {
		return err
	}
	s.env.Timers.CancelAll()
	return nil
}

func (s *Schedule) Destroy() { s.env.Timers.CancelAll() }
