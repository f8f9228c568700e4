package f1

import "time"

// Session is one timed session of a race weekend (practice, qualifying,
// sprint, race).
type Session struct {
	Name       string    `json:"session_name"`
	Type       string    `json:"session_type"`
	Start      time.Time `json:"date_start"`
	End        time.Time `json:"date_end"`
	Location   string    `json:"location"`
	SessionKey int       `json:"session_key"`
}

// Weather is an optional reading for the circuit.
type Weather struct {
	AirTemp       float64 `json:"air_temperature"`
	TrackTemp     float64 `json:"track_temperature"`
	Humidity      float64 `json:"humidity"`
	Rainfall      bool    `json:"rainfall"`
	WindSpeed     float64 `json:"wind_speed"`
	WindDirection int     `json:"wind_direction"`
}

// RaceWeekend is an immutable snapshot of the next race weekend. A refresh
// always produces a new snapshot; nothing mutates one after fetch.
type RaceWeekend struct {
	MeetingKey   int       `json:"meeting_key"`
	RaceName     string    `json:"meeting_name"`
	OfficialName string    `json:"meeting_official_name"`
	Location     string    `json:"location"`
	Country      string    `json:"country_name"`
	CircuitName  string    `json:"circuit_short_name"`
	CircuitType  string    `json:"circuit_type"`
	CountryFlag  string    `json:"country_flag"`
	Start        time.Time `json:"date_start"`
	Year         int       `json:"year"`
	Sessions     []Session `json:"sessions"`
	Weather      *Weather  `json:"weather,omitempty"`

	// DataHash fingerprints the semantic fields; set by the edge cache or
	// computed locally via Fingerprint.
	DataHash string `json:"data_hash,omitempty"`
}
