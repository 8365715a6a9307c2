package worker

import "errors"

// ErrRetriesExhausted means every apply attempt lost a concurrent-update
// race. The evaluation will re-trigger on the video's next rating.
var ErrRetriesExhausted = errors.New("evaluation retries exhausted")
