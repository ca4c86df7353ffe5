package domain

// SearchResult is one web search hit.
type SearchResult struct {
	Title   string
	URL     string
	Snippet string
}

// KnowledgeChunk is one fragment returned by the local knowledge base.
type KnowledgeChunk struct {
	Text   string
	Source string
}
