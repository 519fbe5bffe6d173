// Package nntp is the Article Provider: one connection pool per configured
// Usenet server, pipelined BODY fetch, and priority-ordered failover across
// providers on a 430 (article not found), grounded on the teacher's
// nntp.Manager.Fetch generalized from single-article Fetch to a pipelined
// FetchBatch.
package nntp

import (
	"context"
	"sort"

	"github.com/jvz-devx/usenetd/internal/config"
)

type Manager struct {
	pools []*pool // sorted by Priority ascending (0 = highest)
}

func NewManager(cfg *config.Config) *Manager {
	pools := make([]*pool, 0, len(cfg.Servers))
	for _, sc := range cfg.Servers {
		pools = append(pools, newPool(sc))
	}
	sort.Slice(pools, func(i, j int) bool { return pools[i].cfg.Priority < pools[j].cfg.Priority })
	return &Manager{pools: pools}
}

// TotalCapacity is the sum of every provider's max connection count — the
// download task's batching concurrency.
func (m *Manager) TotalCapacity() int {
	total := 0
	for _, p := range m.pools {
		total += cap(p.sem)
	}
	return total
}

// PipelineDepth is the pipeline depth of the highest-priority provider.
func (m *Manager) PipelineDepth() int {
	if len(m.pools) == 0 {
		return 1
	}
	if m.pools[0].cfg.PipelineDepth <= 0 {
		return 1
	}
	return m.pools[0].cfg.PipelineDepth
}

// FetchBatch fetches every message-id in msgIDs, trying providers in
// priority order and failing an article over to the next provider on a 430.
// missingFrom tracks, per message-id, the set of provider IDs that have
// already reported the article absent, so a caller reusing it across
// retries doesn't re-try a provider known not to have it.
func (m *Manager) FetchBatch(ctx context.Context, msgIDs []string, missingFrom map[string]map[string]bool) ([]ArticleResult, error) {
	final := make(map[string]ArticleResult, len(msgIDs))
	pending := append([]string(nil), msgIDs...)

	for _, p := range m.pools {
		if len(pending) == 0 {
			break
		}

		var tryNow []string
		for _, id := range pending {
			if missingFrom[id] == nil || !missingFrom[id][p.cfg.ID] {
				tryNow = append(tryNow, id)
			}
		}
		if len(tryNow) == 0 {
			continue
		}

		c, got, err := p.tryAcquire()
		if !got || err != nil {
			continue // provider at capacity or unreachable; leave for the next provider
		}

		results, err := c.FetchBatch(tryNow)
		if err != nil {
			p.release(c, true)
			continue
		}
		p.release(c, false)

		for _, r := range results {
			if r.Err == ErrArticleNotFound {
				if missingFrom[r.MessageID] == nil {
					missingFrom[r.MessageID] = make(map[string]bool)
				}
				missingFrom[r.MessageID][p.cfg.ID] = true
				continue // still pending, next provider in priority order will try it
			}
			if r.Err == nil {
				final[r.MessageID] = r
			}
		}

		var next []string
		for _, id := range pending {
			if _, ok := final[id]; !ok {
				next = append(next, id)
			}
		}
		pending = next
	}

	out := make([]ArticleResult, len(msgIDs))
	for i, id := range msgIDs {
		if r, ok := final[id]; ok {
			out[i] = r
			continue
		}
		allMissing := len(m.pools) > 0
		for _, p := range m.pools {
			if missingFrom[id] == nil || !missingFrom[id][p.cfg.ID] {
				allMissing = false
				break
			}
		}
		if allMissing {
			out[i] = ArticleResult{MessageID: id, Err: ErrArticleNotFound}
		} else {
			out[i] = ArticleResult{MessageID: id, Err: ErrProviderBusy}
		}
	}
	return out, nil
}

func (m *Manager) Close() {
	for _, p := range m.pools {
		p.closeAll()
	}
}
