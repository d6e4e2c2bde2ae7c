// Package playrun is a thin client for the Playrun catalog API. Episode
// pushes are classified for the publisher: rejections are permanent,
// transport failures and server errors are retryable.
package playrun
