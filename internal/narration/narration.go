// Package narration turns a race weekend snapshot into an ordered script of
// spoken chapters and tracks. Building is pure: the same snapshot always
// produces the same script, which is what makes fingerprint short-circuiting
// sound.
package narration

import (
	"fmt"
	"strings"
	"time"
)

// Track is one playable unit: display metadata plus either raw text for
// synthesis or a reference to already-rendered audio.
type Track struct {
	Key      string
	Title    string
	Icon     string
	Text     string
	AudioRef string
}

// Chapter groups ordered tracks.
type Chapter struct {
	Key    string
	Title  string
	Icon   string
	Tracks []Track
}

// Script is the ordered narration for one card.
type Script struct {
	Chapters []Chapter
}

// TrackKey derives the ordering key for a 0-based position. The platform
// infers playback order from these keys, so they are 1-based and zero-padded
// to two digits.
func TrackKey(i int) string {
	return fmt.Sprintf("%02d", i+1)
}

// Build constructs the narration script for a race weekend. icon is an
// already-uploaded media reference attached to every chapter; it may be
// empty. Missing weather, flag or sessions drop their clauses rather than
// failing.
func Build(rw RaceWeekendFacts, icon string) Script {
	var chapters []Chapter

	chapters = append(chapters, Chapter{
		Title: "Race Weekend",
		Icon:  icon,
		Tracks: []Track{{
			Key:   TrackKey(0),
			Title: rw.RaceName,
			Icon:  icon,
			Text:  overviewText(rw),
		}},
	})

	for _, day := range groupSessionsByDay(rw.Sessions) {
		ch := Chapter{
			Title: day.name,
			Icon:  icon,
		}
		for i, s := range day.sessions {
			ch.Tracks = append(ch.Tracks, Track{
				Key:   TrackKey(i),
				Title: s.Name,
				Icon:  icon,
				Text:  sessionText(s),
			})
		}
		chapters = append(chapters, ch)
	}

	if rw.Weather != nil {
		chapters = append(chapters, Chapter{
			Title: "Weather",
			Icon:  icon,
			Tracks: []Track{{
				Key:   TrackKey(0),
				Title: "Track Conditions",
				Icon:  icon,
				Text:  weatherText(*rw.Weather),
			}},
		})
	}

	for i := range chapters {
		chapters[i].Key = TrackKey(i)
	}
	return Script{Chapters: chapters}
}

// RaceWeekendFacts is the subset of snapshot fields narration reads. It
// mirrors f1.RaceWeekend structurally so the builder stays decoupled from
// the provider package.
type RaceWeekendFacts struct {
	RaceName    string
	Location    string
	Country     string
	CircuitName string
	CircuitType string
	Start       time.Time
	Year        int
	Sessions    []SessionFacts
	Weather     *WeatherFacts
}

// SessionFacts is one scheduled session.
type SessionFacts struct {
	Name  string
	Type  string
	Start time.Time
	End   time.Time
}

// WeatherFacts is an optional circuit weather reading.
type WeatherFacts struct {
	AirTemp   float64
	TrackTemp float64
	Humidity  float64
	Rainfall  bool
	WindSpeed float64
}

func overviewText(rw RaceWeekendFacts) string {
	var b strings.Builder

	name := rw.RaceName
	if name == "" {
		name = "the next Formula 1 race weekend"
	}
	fmt.Fprintf(&b, "Get ready for %s!", name)

	if rw.Location != "" && rw.Country != "" {
		fmt.Fprintf(&b, " The action takes place in %s, %s.", rw.Location, rw.Country)
	} else if rw.Country != "" {
		fmt.Fprintf(&b, " The action takes place in %s.", rw.Country)
	}

	if rw.CircuitName != "" {
		fmt.Fprintf(&b, " The drivers will battle it out at %s", rw.CircuitName)
		if rw.CircuitType == "street" {
			b.WriteString(", a street circuit")
		}
		b.WriteString(".")
	}

	if !rw.Start.IsZero() {
		fmt.Fprintf(&b, " The race weekend starts on %s.", spokenDate(rw.Start))
	}

	return b.String()
}

func sessionText(s SessionFacts) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s takes place on %s", s.Name, spokenDate(s.Start))
	fmt.Fprintf(&b, " at %s", spokenTime(s.Start))
	if !s.End.IsZero() {
		fmt.Fprintf(&b, ", and finishes at %s", spokenTime(s.End))
	}
	b.WriteString(".")
	return b.String()
}

func weatherText(w WeatherFacts) string {
	var b strings.Builder
	fmt.Fprintf(&b, "At the circuit, the air temperature is %.0f degrees and the track is %.0f degrees.",
		w.AirTemp, w.TrackTemp)
	if w.Rainfall {
		b.WriteString(" Rain is falling, so expect a slippery track!")
	} else {
		b.WriteString(" It is currently dry.")
	}
	if w.WindSpeed > 8 {
		b.WriteString(" It is windy out there.")
	}
	fmt.Fprintf(&b, " Humidity is %.0f percent.", w.Humidity)
	return b.String()
}

type sessionDay struct {
	name     string
	sessions []SessionFacts
}

// groupSessionsByDay preserves session order and groups consecutive sessions
// sharing a calendar day.
func groupSessionsByDay(sessions []SessionFacts) []sessionDay {
	var days []sessionDay
	for _, s := range sessions {
		name := s.Start.Format("Monday")
		if len(days) > 0 && days[len(days)-1].name == name {
			last := &days[len(days)-1]
			last.sessions = append(last.sessions, s)
			continue
		}
		days = append(days, sessionDay{name: name, sessions: []SessionFacts{s}})
	}
	return days
}

func spokenDate(t time.Time) string {
	return fmt.Sprintf("%s the %s of %s", t.Format("Monday"), ordinal(t.Day()), t.Format("January"))
}

func spokenTime(t time.Time) string {
	return t.Format("3:04 PM")
}

func ordinal(n int) string {
	suffix := "th"
	switch {
	case n%100 >= 11 && n%100 <= 13:
	case n%10 == 1:
		suffix = "st"
	case n%10 == 2:
		suffix = "nd"
	case n%10 == 3:
		suffix = "rd"
	}
	return fmt.Sprintf("%d%s", n, suffix)
}
