// Package auth provides authentication middleware for the reportd HTTP API.
//
// APIKey(mode, header, key) wraps an http.Handler and validates the key from
// the named request header. Browsers cannot set headers on a WebSocket
// upgrade, so the api_key query parameter is accepted as well.
//
// When mode != "apikey" or key == "", all requests pass through (useful for
// local development with auth disabled). When the key is incorrect or absent,
// the middleware answers 401 immediately.
package auth
