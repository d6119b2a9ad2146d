package anthropic

// BuildCachedSystemBlocks constructs a system block with a cache breakpoint
// so repeated calls sharing the same instructions hit the prompt cache.
func BuildCachedSystemBlocks(text, ttl string) []SystemBlock {
	return []SystemBlock{
		{
			Text:         text,
			CacheControl: &CacheControl{TTL: ttl},
		},
	}
}
