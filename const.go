package max30105

import "time"

// DetectionThreshold is the normalized IR level under which nothing is
// considered to be placed on the sensor.
const DetectionThreshold = 0.10

// Heart rate limits
const (
	minBPM = 10
	maxBPM = 250

	// maxDeviation is how far a beat span may be from the median span.
	maxDeviation = 0.35
	// hysteresis is the fraction of the peak AC amplitude a trough has to
	// reach before the next rising edge counts as a beat.
	hysteresis = 0.3
	// dcSpan is the length of the moving mean removed from the signal
	// before beats are detected, so that slow baseline drift is ignored.
	dcSpan = time.Second
)

// SpO2 = spo2A - spo2B * R
const (
	spo2A = 104
	spo2B = 17
)

// Calibration
const (
	calibrationTarget = 0.4
	calibrationStep   = 0.5
	calibrationMaxAmp = 5.0
	calibrationSettle = 40 * time.Millisecond
	calibrationTime   = 10 * time.Second
)

const (
	defaultWindow = 5 * time.Second
	// timeoutMargin is added to the window when waiting for samples.
	timeoutMargin = 2 * time.Second
)
