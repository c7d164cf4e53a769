package proxy

import (
	"anthroproxy/internal/promptcache"
	"anthroproxy/internal/streamx"
	"anthroproxy/pkg/translate"
)

// recordCacheAccess computes the (system,tools) fingerprint and records it
// against the prompt cache, returning the access result the caller uses to
// fill cache_creation_input_tokens / cache_read_input_tokens (spec.md
// §4.2.2 rule 3, §4.3). Fingerprinting and cache mutation happen once per
// request, before any backend call, so a cancelled request never leaves
// the cache half-updated (spec.md §5).
func (s *Server) recordCacheAccess(fp translate.FingerprintPayload) (string, promptcache.AccessResult, error) {
	fingerprint, err := promptcache.Fingerprint(fp)
	if err != nil {
		return "", promptcache.AccessResult{}, err
	}
	estimated := promptcache.EstimateTokens(fp.System)
	for _, t := range fp.Tools {
		estimated += promptcache.EstimateTokens(t.Name + t.Description + string(t.InputSchema))
	}
	return fingerprint, s.cache.RecordAccess(fingerprint, estimated), nil
}

// applyCacheUsage fills the cache attribution fields on a non-streaming
// response's usage.
func applyCacheUsage(usage *translate.Usage, access promptcache.AccessResult) {
	if access.FirstSeen {
		usage.CacheCreationInputTokens = access.EstimatedTokens
	} else if access.Hit {
		usage.CacheReadInputTokens = access.EstimatedTokens
	}
}

// augmentFinishUsage wraps a streamx.Event channel, filling the cache
// attribution fields on the single Finish event each stream carries. All
// other events pass through unchanged.
func augmentFinishUsage(in <-chan streamx.Event, access promptcache.AccessResult) <-chan streamx.Event {
	out := make(chan streamx.Event)
	go func() {
		defer close(out)
		for ev := range in {
			if ev.Kind == streamx.EventFinish {
				if access.FirstSeen {
					ev.Usage.CacheCreationInputTokens = access.EstimatedTokens
				} else if access.Hit {
					ev.Usage.CacheReadInputTokens = access.EstimatedTokens
				}
			}
			out <- ev
		}
	}()
	return out
}
