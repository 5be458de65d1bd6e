// Package services talks to the Spotify Web API on behalf of linked accounts.
//
// # Spotify Implementation
//
// [SpotifyService] covers the OAuth2 authorization code flow used to link accounts,
// the profile lookup that identifies them, and the playlist writes of a rotation:
// creating a playlist, replacing its tracks and updating its name and description.
// It also reads playlist contents for catalog imports.
//
// Every request passes through a shared [rate.Limiter], runs under a per-attempt timeout
// and is retried a bounded number of times with exponential backoff. 429 responses
// honour Retry-After. Once attempts are exhausted the error wraps [shared.ErrRemoteSync].
//
// # Credentials
//
// [TokenProvider] hands out a ready-to-use [Credential] per account, refreshing
// the stored OAuth token when it is about to expire.
//
// # Error Handling
//
// Services use typed errors from shared package:
//   - [shared.ErrRemoteSync] : request failed after all attempts
//   - [shared.ErrTokenExpired] : Spotify rejected the access token (401)
//   - [shared.ErrRefreshFailed] : the refresh token could not be exchanged
//   - [shared.ErrNotAuthenticated] : the account has no stored token
package services
