package fleet

import (
	"math"

	"bustrack/internal/apperr"
)

// ValidateCoordinates checks latitude and longitude bounds.
func ValidateCoordinates(lat, lng float64) error {
	if math.IsNaN(lat) || math.IsInf(lat, 0) || lat < -90 || lat > 90 {
		return apperr.InvalidField("latitude", "latitude must be between -90 and 90")
	}
	if math.IsNaN(lng) || math.IsInf(lng, 0) || lng < -180 || lng > 180 {
		return apperr.InvalidField("longitude", "longitude must be between -180 and 180")
	}
	return nil
}

// ValidateReport checks every bounded field of a location report.
func ValidateReport(r LocationReport) error {
	if err := ValidateCoordinates(r.Latitude, r.Longitude); err != nil {
		return err
	}
	if math.IsNaN(r.Speed) || math.IsInf(r.Speed, 0) || r.Speed < 0 {
		return apperr.InvalidField("speed", "speed must be zero or positive")
	}
	if math.IsNaN(r.Heading) || math.IsInf(r.Heading, 0) || r.Heading < 0 || r.Heading > 360 {
		return apperr.InvalidField("heading", "heading must be between 0 and 360")
	}
	if r.PassengerCount < 0 {
		return apperr.InvalidField("passenger_count", "passenger count must be zero or positive")
	}
	return nil
}
