// Package credentials locates platform tokens from .env files, environment
// variables, and token files.
package credentials
