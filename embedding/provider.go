package embedding

import "context"

// Provider produces embeddings with a fixed dimensionality. All vectors
// returned by one provider instance have length Dimensions(); the
// long-term store rejects anything else.
type Provider interface {
	// EmbedQuery embeds a single retrieval query.
	EmbedQuery(ctx context.Context, query string) ([]float32, error)

	// EmbedDocuments embeds a batch of documents, preserving input order.
	EmbedDocuments(ctx context.Context, documents []string) ([][]float32, error)

	// Dimensions reports the fixed vector length.
	Dimensions() int

	// Name identifies the provider for logs and health reporting.
	Name() string
}
