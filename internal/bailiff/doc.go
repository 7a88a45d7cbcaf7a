// Package bailiff implements the host side of the tag game: a Service that
// keeps the resident set, answers tag queries and accepts migrating units.
//
// The Service satisfies contract.Host, so a controller running in the same
// process talks to it exactly as it would to a remote bailiff.
//
// Arriving units are handed to a Launcher after they are listed as
// resident. The Launcher owns the goroutine that runs the unit's
// controller; the server package provides the production one.
package bailiff
