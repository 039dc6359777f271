// Package utils holds input validation shared by the REST and WebSocket
// surfaces: envelope size and nesting limits, script size limits and
// display-name checks.
package utils
