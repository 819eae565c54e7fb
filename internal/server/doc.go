// Package server exposes the roundsync engine as a JSON HTTP API.
//
// # Router Infrastructure
//
// The [Router] interface defines HTTP routing with middleware support.
// [BasicRouter] implements it on a chi router, so paths may carry URL parameters like {groupID}.
// [DefaultMiddleware] adds request IDs, real client IPs, request logging and panic recovery.
//
// # Routes
//
//	GET    /health
//	GET    /metrics
//	POST   /api/match
//	POST   /api/match/bulk
//	GET    /api/groups/{groupID}/playlists
//	POST   /api/groups/{groupID}/playlists/{platform}/sync
//	PATCH  /api/groups/{groupID}/playlists/{platform}
//	DELETE /api/groups/{groupID}/playlists/{platform}
//
// Errors are written as {"error": "..."} with a status from [StatusFor].
// A sync that finds the pair already being synced answers 409 Conflict.
//
// # Handler Interface
//
// Custom handlers implement the [Handler] interface, which wraps the stdlib handler interface and adds routes,
// allowing handlers to register multiple routes to encapsulate route definitions within the implementation.
package server
