package lblfetch

import "context"

// DefaultPageSize is the number of assets requested per page.
const DefaultPageSize = 100

// AssetStore is a remote annotation store.
type AssetStore interface {
	// ListAssets lists the assets of a project, pageSize at a time, and calls fn once per page in
	// listing order. An error returned by fn stops the listing and is returned.
	ListAssets(ctx context.Context, projectID string, pageSize int, fn func(page []Asset) error) error

	// FetchContent downloads the content (image) of asset.
	FetchContent(ctx context.Context, asset Asset) ([]byte, error)
}
