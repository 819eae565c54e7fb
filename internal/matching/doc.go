// Package matching resolves loosely described songs to platform track IDs.
//
// [Normalize] canonicalizes text and moves qualifiers such as "(Remastered 2011)"
// or "feat. X" into a side-channel. [Scorer] turns a (song, candidate) pair into a
// confidence in [0, 1] and [Resolver] runs one search against a platform and ranks
// what comes back.
package matching
