// Package ratelimit provides the throttling gate shared by concurrent fetch workers.
package ratelimit
