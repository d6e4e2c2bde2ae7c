// Package publish performs the two-phase episode publish: upload the
// rendered artifact to Drive first, then repoint the catalog entry and
// RSS feed item at the new object under a stable item key. The previous
// remote object only becomes disposable after the repoint succeeds.
package publish
