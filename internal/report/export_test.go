package report

// Percentile exposes percentile for testing.
var Percentile = percentile
