// Package flags formats shared usage text for enumerated command flags.
package flags
