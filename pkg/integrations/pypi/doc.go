// Package pypi is a client for PEP 691 simple repository indexes such as
// https://pypi.org/simple.
//
// [Client.Project] lists every distribution file of a project with its
// hashes, requires-python, yank state and upload time. [Client.Metadata]
// fetches a wheel's core metadata from its PEP 658 ".metadata" sibling when
// the index advertises one; callers fall back to downloading the artifact
// with [Client.Download] otherwise.
//
//	c := pypi.NewClient(backend, 10*time.Minute, pypi.DefaultIndexURL)
//	proj, err := c.Project(ctx, "requests", false)
//
// Project pages are cached for the client's TTL; metadata files are
// immutable and cached without expiry.
package pypi
