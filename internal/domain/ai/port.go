package ai

import "context"

// Request is one analysis call: who the model should act as, what to do, and the document text.
type Request struct {
	Role     string
	Goal     string
	Prompt   string
	Document string
	FileName string
}

type Client interface {
	Analyze(ctx context.Context, req Request) (string, error)
}
