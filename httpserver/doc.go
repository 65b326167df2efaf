/*
Package httpserver implements the HTTP server shared by the device agent
binaries.

A Server mounts caller-provided API routes on a chi router, logs every request
and adds health and diagnostic endpoints:

  - GET /livez - liveness
  - GET /readyz - readiness, 503 while draining
  - GET /drain, GET /undrain - toggle readiness
  - /debug/pprof - when EnablePprof is set

RunInBackground binds synchronously so that a port conflict is reported to
the caller, then serves until Shutdown.
*/
package httpserver
