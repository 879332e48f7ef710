package geogrid

import "math"

// EarthRadiusMeters is the mean Earth radius used for parallel circumference.
const EarthRadiusMeters = 6371228.0

// LatDegreesPerMeter returns how many degrees of latitude one meter spans at
// lat. The polynomial models meridian arc length per arc minute.
func LatDegreesPerMeter(lat float64) float64 {
	a := math.Abs(lat)
	d := -0.00005743*a*a*a + 0.00777424*lat*lat - 0.02882651*a + 1842.98959689
	return 1.0 / (d * 60.0)
}

// LonDegreesPerMeter returns how many degrees of longitude one meter spans at
// lat. The polynomial models parallel arc length per arc minute.
func LonDegreesPerMeter(lat float64) float64 {
	a := math.Abs(lat)
	lat2 := lat * lat
	d := 0.000005164*lat2*lat2 + 0.0001753*a*a*a - 0.287705412*lat2 + 0.101570737*a + 1854.974604345
	return 1.0 / (d * 60.0)
}

// Circumference returns the length in meters of the parallel at lat on a
// sphere of radius EarthRadiusMeters.
func Circumference(lat float64) float64 {
	return 2.0 * math.Pi * EarthRadiusMeters * math.Cos(lat/180.0*math.Pi)
}
