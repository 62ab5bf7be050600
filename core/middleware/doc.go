// Package middleware contains HTTP middleware for the Fiber application.
//
//   - auth: API key validation protecting the world and snapshot endpoints.
//   - rayid: a unique request id (RayID) per request, stored in the context and
//     echoed in the response headers for tracing.
package middleware
