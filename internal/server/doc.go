// Package server provides HTTP routing, middleware and the two HTTP surfaces of rotator:
// the OAuth callback that links accounts and the worker's jobs API.
//
// # Router Infrastructure
//
// The [Router] interface defines HTTP routing with middleware support.
//
// [Middleware] wraps handlers in reverse order (last added executes first), following the standard Go pattern.
// [Logging] and [Recover] are the stock middleware.
//
// The [BasicRouter] implementation uses [http.ServeMux] method patterns internally.
//
// # OAuth Callback Handler
//
// [OAuthHandler] implements the OAuth2 authorization code callback flow.
//
// The handler validates the state parameter (CSRF protection), exchanges the authorization code for tokens,
// links the Spotify user as an account and sends the result through a channel.
//
// It only processes one callback to prevent replay attacks.
//
// # Jobs API
//
// [JobsHandler] exposes the worker's scheduler over HTTP. The `jobs` commands talk to it through [JobsClient].
//
// # Handler Interface
//
// Custom handlers implement the [Handler] interface, which wraps the stdlib handler interface and adds routes,
// allowing handlers to register multiple routes to encapsulate route definitions within the implementation.
package server
