// Package upstream talks to the public pub registry and materializes
// its packages into the local cache namespace. The client wraps every
// call in a circuit breaker and keeps a short-TTL LRU of package
// documents; the download service implements the read-through policy
// that turns a first download into a cached local copy.
package upstream
