// Package llmtest provides a scripted llm.Client for tests.
package llmtest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/joseph-ayodele/plan-analyzer/internal/llm"
)

// Rule answers any request whose system or user prompt contains Match.
// Times > 0 limits how often the rule fires; after that it is skipped.
type Rule struct {
	Match string
	Reply string
	Err   error
	Times int
}

// Fake is a scripted llm.Client. Rules are tried in order.
type Fake struct {
	mu    sync.Mutex
	rules []*Rule
	calls []llm.Request
}

var _ llm.Client = (*Fake)(nil)

func New(rules ...Rule) *Fake {
	f := &Fake{}
	for _, r := range rules {
		f.On(r)
	}
	return f
}

// On appends a rule.
func (f *Fake) On(r Rule) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, &r)
	return f
}

func (f *Fake) Name() string { return "fake" }

func (f *Fake) Complete(ctx context.Context, req llm.Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	for _, r := range f.rules {
		if !strings.Contains(req.System, r.Match) && !strings.Contains(req.User, r.Match) {
			continue
		}
		if r.Times < 0 {
			continue
		}
		if r.Times > 0 {
			r.Times--
			if r.Times == 0 {
				r.Times = -1
			}
		}
		return r.Reply, r.Err
	}
	return "", fmt.Errorf("llmtest: no rule for prompt %.80q", req.User)
}

// Calls returns a copy of the requests seen so far.
func (f *Fake) Calls() []llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]llm.Request(nil), f.calls...)
}

// CallsMatching counts requests whose prompts contain s.
func (f *Fake) CallsMatching(s string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if strings.Contains(c.System, s) || strings.Contains(c.User, s) {
			n++
		}
	}
	return n
}
