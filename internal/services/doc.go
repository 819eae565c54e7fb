// Package services defines the [Searcher] and [PlaylistManager] capabilities and implements them for Spotify and Apple Music.
//
// # Spotify
//
// [SpotifyService] wraps the zmb3/spotify v2 client over an [oauth2] transport. Token
// acquisition is handled elsewhere; the service only refreshes an expired access token
// with the configured refresh token.
//
// # Apple Music
//
// [AppleMusicService] talks to the Apple Music REST API directly. The developer token
// is sent as a bearer token and the user's Music-User-Token as a header.
//
// # Error Handling
//
// Both adapters translate platform responses into the shared taxonomy:
//   - 429 : [shared.RateLimitedError] carrying the Retry-After hint
//   - 401, 403 and token refresh failures : [shared.ErrAuthExpired]
//   - 5xx and transport failures : [shared.ErrPlatformUnavailable]
//   - 404 on playlist calls : [shared.ErrPlaylistNotFound]
package services
