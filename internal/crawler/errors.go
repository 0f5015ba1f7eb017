package crawler

import "fmt"

// FetchError describes a follow list that could not be retrieved for one account.
// The crawler absorbs it: the account simply contributes no outgoing edges.
type FetchError struct {
	Identifier string
	Source     string
	Err        error
}

func (e *FetchError) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("fetch follows of %s from %s: %v", e.Identifier, e.Source, e.Err)
	}
	return fmt.Sprintf("fetch follows of %s: %v", e.Identifier, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// CrawlFailedError is returned when a crawl cannot produce a usable graph
type CrawlFailedError struct {
	Reason string
	Err    error
}

func (e *CrawlFailedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("crawl failed: %s: %v", e.Reason, e.Err)
	}
	return "crawl failed: " + e.Reason
}

func (e *CrawlFailedError) Unwrap() error {
	return e.Err
}
