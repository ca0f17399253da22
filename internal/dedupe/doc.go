// Package dedupe remembers recently seen message ids so replayed push events
// can be recognised after their conversation's messages have been dropped
// from memory.
package dedupe
