// Package telemetry holds the live-data half of Pelorus: the latest
// sample for every (path, source) pair, freshness tracking, and the
// resolver widgets read display values through.
//
// # Architecture
//
//	value delta ──► Cache.Put ──► pathEntry[source] = DataPoint
//	                                      │
//	widget read ◄── Resolver ◄── Cache.Get┘
//	                   │
//	                   └──── units.Store (conversion rules)
//
//   - Value: a tagged union over the dynamically typed SignalK value
//     space (number, boolean, text, structured, absent). Conversion only
//     touches the number variant; everything else passes through.
//   - Cache: (path, source)-keyed latest samples with per-path locking
//     and latest-source tracking.
//   - Resolver: combines the cache with the metadata store and owns the
//     display/command conversion policy, including every fallback.
//
// # Sources
//
// A path can have several concurrent producers (two GPS units both
// publishing navigation.position). Samples are keyed by (path, source);
// a caller asking without a source gets whichever source wrote most
// recently. Samples arriving without a source label are stored under the
// "default" sentinel.
//
// # Freshness
//
// A sample is fresh while now - timestamp <= TTL (30s unless
// configured). "No data" and "stale data" both answer not fresh;
// freshness checks never fail with an error.
//
// # Failure Policy
//
// Nothing in this package returns an error for missing data or missing
// metadata. Absence renders as (zero, false) or the "--" sentinel. The
// resolver's command path falls back to identity, never to zero: sending
// an unconverted value to the server is recoverable, sending zero to an
// autopilot is not.
package telemetry
