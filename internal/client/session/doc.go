// Package session runs background synchronization for one signed-in user.
//
// A Coordinator migrates legacy storage keys once, then runs sync passes
// (push, pull, download) on a timer, on remote change notifications and on
// request. At most one pass runs at a time; requests arriving meanwhile are
// coalesced into the next one. Requests made while the server is
// unreachable wait in a connectivity.Gate.
package session
