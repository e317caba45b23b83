package kumo

import "math"

// Temperatures are Celsius everywhere inside the client and on the
// wire. Fahrenheit exists only at the presentation boundary, rounded
// to one decimal place.

func CelsiusToFahrenheit(c float64) float64 {
	return round1(c*9/5 + 32)
}

func FahrenheitToCelsius(f float64) float64 {
	return round1((f - 32) * 5 / 9)
}

// CelsiusPtrToFahrenheit converts an optional reading, keeping nil.
func CelsiusPtrToFahrenheit(c *float64) *float64 {
	if c == nil {
		return nil
	}
	f := CelsiusToFahrenheit(*c)
	return &f
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
