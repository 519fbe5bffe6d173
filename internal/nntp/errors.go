package nntp

import "errors"

// ErrArticleNotFound is returned on an NNTP 430 response — the article is
// confirmed absent from that provider's retention, not a transient failure.
var ErrArticleNotFound = errors.New("nntp: article not found (430)")

// ErrProviderBusy means every configured provider is at its connection
// ceiling right now; the caller should back off and retry.
var ErrProviderBusy = errors.New("nntp: all providers busy")
