// Package report reads audit inputs (explicit target lists, step-name allow-lists,
// previously written stage durations) and writes the JSON reports and the console
// run summary.
package report
