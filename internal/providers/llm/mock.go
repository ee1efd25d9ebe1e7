package llm

import "context"

// Mock replays scripted token chunks, optionally ending with an error.
// FailBeforeFirst simulates a model call that dies before producing tokens.
type Mock struct {
	Chunks          []string
	TrailingErr     error
	FailBeforeFirst error
}

func (m *Mock) StreamAnswer(ctx context.Context, _ string) (<-chan string, <-chan error) {
	out := make(chan string, len(m.Chunks)+1)
	errs := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errs)

		if m.FailBeforeFirst != nil {
			errs <- m.FailBeforeFirst
			return
		}
		for _, c := range m.Chunks {
			select {
			case out <- c:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}
		if m.TrailingErr != nil {
			errs <- m.TrailingErr
		}
	}()

	return out, errs
}

func (m *Mock) Close() error { return nil }
