package translate

import "context"

// Backend streams a translation of req.SourceText from req.SourceLanguage
// to req.TargetLanguage using the given model, calling onDelta for every
// incremental chunk of target text as it arrives. It returns the complete
// translated text once the stream ends.
type Backend interface {
	Translate(ctx context.Context, model string, req Request, onDelta func(string)) (string, error)
}

// Request is the subset of types.TranslationRequest a Backend needs,
// kept separate so backends don't depend on the queue's bookkeeping
// fields (priority, kind).
type Request struct {
	SourceText     string
	SourceLanguage string
	TargetLanguage string
}
