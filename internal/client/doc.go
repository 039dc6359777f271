// Package client provides a Go client for the guestbridge controller API.
//
// Built on go-resty/resty for production reliability:
//   - Retries with backoff through a hashicorp/go-retryablehttp transport
//   - Client-side rate limiting with golang.org/x/time/rate
//   - Circuit breaker from infrastructure/resilience
//
// Retry policy: transport failures and 5xx answers are retried, except a
// POST that reached the server. 4xx answers never count against the
// breaker.
//
// Example Usage:
//
//	c := client.New("http://localhost:8000")
//	info, err := c.CreateSession(ctx, client.CreateRequest{Name: "checkout"})
//	ready, err := c.WaitReady(ctx, info.ID, 5*time.Second)
//	res, err := c.Execute(ctx, info.ID, "bb.send('ping')", time.Second)
package client
