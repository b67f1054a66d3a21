// README: Typed operation result that records where the value came from.
package taxi

type Source string

const (
	// SourceLive means the server accepted the operation.
	SourceLive Source = "live"
	// SourceLocal means the server failed or was not configured; local state was used.
	SourceLocal Source = "local"
	// SourceDemo means fixed sample data was returned because no user is signed in.
	SourceDemo Source = "demo"
)

type Result[T any] struct {
	Value    T      `json:"value"`
	Source   Source `json:"source"`
	Upstream error  `json:"-"`
}

func live[T any](v T) Result[T] {
	return Result[T]{Value: v, Source: SourceLive}
}

// local wraps v, keeping the server error that caused the fallback (nil if the server
// was never tried).
func local[T any](v T, upstream error) Result[T] {
	return Result[T]{Value: v, Source: SourceLocal, Upstream: upstream}
}

// UpstreamError is the JSON-friendly form of Upstream.
func (r Result[T]) UpstreamError() string {
	if r.Upstream == nil {
		return ""
	}
	return r.Upstream.Error()
}
