// Package crawler defines the contracts shared by the search pipeline: fetch
// sessions, extractors, politeness limiters, notifiers and the page and match
// types that flow between them.
package crawler
