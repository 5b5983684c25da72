// Package crawler implements the page mirroring engine: bounded same-origin
// traversal, resource classification, safe local naming, the per-page
// download pool, and the two-phase markup rewriter that points saved pages
// at their local copies.
package crawler
