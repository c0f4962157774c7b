package nlp

import (
	"context"
	"fmt"
	"sync"
)

// StaticProvider replays pre-registered JSON responses, keyed by schema
// name. Tests use it to drive the engine deterministically and to assert on
// the prompts the engine built.
type StaticProvider struct {
	mu        sync.Mutex
	responses map[string][]string
	fallback  map[string]string
	funcs     map[string]func(ctx context.Context) (string, error)
	prompts   []Request
}

// NewStaticProvider creates an empty static provider.
func NewStaticProvider() *StaticProvider {
	return &StaticProvider{
		responses: map[string][]string{},
		fallback:  map[string]string{},
		funcs:     map[string]func(ctx context.Context) (string, error){},
	}
}

// Enqueue registers a one-shot response for the schema name; responses for
// the same name are consumed FIFO.
func (p *StaticProvider) Enqueue(schemaName, rawJSON string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.responses[schemaName] = append(p.responses[schemaName], rawJSON)
}

// Always registers a response returned whenever the queue for the schema
// name is empty.
func (p *StaticProvider) Always(schemaName, rawJSON string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fallback[schemaName] = rawJSON
}

// AlwaysFunc registers a response function for the schema name. The queue
// and Always fallback take precedence. Functions may block on the context;
// tests use this to hold a generation open.
func (p *StaticProvider) AlwaysFunc(schemaName string, fn func(ctx context.Context) (string, error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.funcs[schemaName] = fn
}

// Prompts returns the requests received so far, in order.
func (p *StaticProvider) Prompts() []Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Request(nil), p.prompts...)
}

// CallCount returns how many generations were requested for the schema name.
func (p *StaticProvider) CallCount(schemaName string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, req := range p.prompts {
		if req.SchemaName == schemaName {
			n++
		}
	}
	return n
}

// Name implements Provider.
func (p *StaticProvider) Name() string {
	return "static"
}

// GenerateJSON implements Provider.
func (p *StaticProvider) GenerateJSON(ctx context.Context, req Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.prompts = append(p.prompts, req)

	if queue := p.responses[req.SchemaName]; len(queue) > 0 {
		raw := queue[0]
		p.responses[req.SchemaName] = queue[1:]
		return p.respond(req, raw), nil
	}
	if raw, ok := p.fallback[req.SchemaName]; ok {
		return p.respond(req, raw), nil
	}
	if fn, ok := p.funcs[req.SchemaName]; ok {
		p.mu.Unlock()
		raw, err := fn(ctx)
		p.mu.Lock()
		if err != nil {
			return Response{}, err
		}
		return p.respond(req, raw), nil
	}
	return Response{}, fmt.Errorf("static provider: no response registered for schema %q", req.SchemaName)
}

func (p *StaticProvider) respond(req Request, raw string) Response {
	resp := Response{RawJSON: []byte(raw)}
	resp.Info.SchemaName = req.SchemaName
	resp.Info.Model = "static"
	resp.Info.InputTokens = CountTokens(req.Prompt)
	resp.Info.OutputTokens = CountTokens(raw)
	return resp
}
