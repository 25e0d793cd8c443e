package models

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"time"
)

type Event struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	CreatedBy   string    `json:"created_by"`
	VenueID     string    `json:"venue_id"`
	StartAt     time.Time `json:"start_at"`
	EndAt       time.Time `json:"end_at"`
	MaxTickets  int       `json:"max_tickets"`
	Expired     bool      `json:"expired"`
	Duration    float64   `json:"duration"`
	Verifiers   []string  `json:"verifiers"`
}

// EventDuration returns the absolute distance between start and end in hours.
func EventDuration(start, end time.Time) float64 {
	return math.Abs(end.Sub(start).Hours())
}

func (e *Event) HasVerifier(userID string) bool {
	return userID != "" && slices.Contains(e.Verifiers, userID)
}

// ExpiredTransition returns an error when an update would un-expire an event.
func ExpiredTransition(before, after bool) error {
	if before && !after {
		return fmt.Errorf("event expiry cannot be reverted")
	}
	return nil
}

type Venue struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	City        string `json:"city"`
	State       string `json:"state"`
	Country     string `json:"country"`
	Capacity    int    `json:"capacity"`
	Latitude    string `json:"latitude"`
	Longitude   string `json:"longitude"`
	CreatedBy   string `json:"created_by"`
}

// FormatCoordinates renders a signed latitude/longitude pair as
// "12.5° North" / "77.1° East" style strings.
func FormatCoordinates(lat, lng float64) (string, string) {
	latDir := "North"
	if math.Signbit(lat) {
		latDir = "South"
	}
	lngDir := "East"
	if math.Signbit(lng) {
		lngDir = "West"
	}
	return fmt.Sprintf("%s° %s", strconv.FormatFloat(math.Abs(lat), 'f', -1, 64), latDir),
		fmt.Sprintf("%s° %s", strconv.FormatFloat(math.Abs(lng), 'f', -1, 64), lngDir)
}
