// Package lock implements a distributed mutual-exclusion lock coordinated
// through an external store. Each Handle runs one acquire → work → release
// cycle, tags its ownership with a fresh random token and relies on the
// store's lease expiry to recover from crashed holders. Acquisition is
// non-blocking by default; blocking mode polls the store and can be woken
// early by release events on a syncbus Bus.
package lock
