// Package dedupe remembers recently accepted transfer ids so a redelivered
// migrate call installs a unit only once.
package dedupe
