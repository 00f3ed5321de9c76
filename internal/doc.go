// Package esbmeter reads household electricity usage from the ESB Networks
// customer portal.
//
// # Architecture
//
// The service is structured into several key packages:
//   - scrape: Token and form extraction from portal pages
//   - auth: The five-step sign-in that yields an authenticated session
//   - api: HDF download and CSV decoding into interval readings
//   - cache: Per-account time-to-live cache with single-flight refreshes
//   - usage: Window sums (today, last 24 hours, this week, last 7 days,
//     this month, last 30 days)
//   - scheduler: Periodic refresh of every account and last good totals
//   - database: Optional Postgres storage of readings
//   - grpc: gRPC service implementation
//   - models: Shared data structures
//
// Key Features
//
//   - Portal Friendliness:
//     Only the scheduler signs in, at most once per cache TTL (5 minutes
//     by default) per account. gRPC requests read what it computed, so the
//     portal's daily sign-in limit is not spent on client traffic.
//
//   - Usage Windows:
//     Calendar windows follow the portal's zone; rolling windows are
//     exact durations ending now.
//
//   - Degraded Mode:
//     When a refresh fails, the last good totals are served and marked
//     stale, and the health service reports NOT_SERVING. With a database
//     configured, totals from stored readings are served until the first
//     refresh after a restart.
//
// Example Usage
//
//	client := grpc.NewUsageServiceClient(conn)
//	resp, err := client.GetUsage(ctx, wrapperspb.String("10012345678"))
//	today := resp.AsMap()["today"]
//
// For more information about specific packages, see their respective
// documentation.
package esbmeter
