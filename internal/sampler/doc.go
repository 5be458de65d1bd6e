// Package sampler picks the ordered track list for a playlist rotation.
//
// Selection works on the usable catalog and a set of recently used track ids:
//
//  1. Candidates are the usable tracks ordered by popularity (unknown last).
//  2. A catalog smaller than the target size fails with [shared.ErrInsufficientTracks].
//  3. Recently used tracks are excluded unless that leaves fewer tracks than the
//     target, in which case the cooldown is relaxed and every candidate is eligible.
//  4. Tracks are grouped by artist and artists are visited round robin in a
//     shuffled order, taking one random track per visit until the artist reaches the cap.
//  5. When the cap makes a full selection impossible, the remaining slots are filled
//     uniformly at random from unselected tracks regardless of artist. This fallback is
//     intentional and reported through [Selection.CapRelaxed].
//
// The selection order is the playlist order.
package sampler
