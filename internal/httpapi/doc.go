// Package httpapi serves the chatauth endpoints over HTTP: login, refresh,
// logout, session listing and termination, health and metrics.
//
// Every route is wrapped by a [middleware.Guard]. Engine errors are mapped
// to status codes here; the guard only produces 401, 403 and 429.
package httpapi
