// Package pathutils expands user home shortcuts in paths read from flags and
// configuration files.
package pathutils
