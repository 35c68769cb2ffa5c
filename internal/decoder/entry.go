package decoder

import "context"

// Decode routes a request to the zero-shot or normal decode path based on
// whether both reference-token vectors are present, per spec §3.
func Decode(ctx context.Context, ic *InferContext, req *TtsRequest) (global, semantic []int64, err error) {
	if req.IsZeroShot() {
		return ExecuteZeroShot(ctx, ic, req)
	}

	return ExecuteNormal(ctx, ic, req)
}
