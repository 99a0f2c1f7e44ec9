// Package crawler holds the domain model shared by every crawl component: the
// frontier states and their store contract, the article record, fetch and
// extraction results, typed errors, URL canonicalisation and the host blocklist.
package crawler
