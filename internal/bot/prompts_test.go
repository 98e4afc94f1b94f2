package bot

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sureline/whatsapp-orchestrator/pkg/logger"
)

type overridePrompts struct {
	overrides map[string]string
	err       error
	calls     int
}

func (o *overridePrompts) PromptOverrides(context.Context) (map[string]string, error) {
	o.calls++
	return o.overrides, o.err
}

func TestPromptLoaderAppliesOverrides(t *testing.T) {
	src := &overridePrompts{overrides: map[string]string{
		"greeting": "Custom greeting",
		"unknown":  "ignored",
	}}
	l := NewPromptLoader(src, time.Minute, logger.NewNop())

	p := l.Load(context.Background())
	assert.Equal(t, "Custom greeting", p.Greeting)
	assert.Equal(t, DefaultPrompts().Menu, p.Menu)
}

func TestPromptLoaderCachesWithinTTL(t *testing.T) {
	src := &overridePrompts{}
	l := NewPromptLoader(src, time.Minute, logger.NewNop())

	l.Load(context.Background())
	l.Load(context.Background())
	l.Load(context.Background())
	assert.Equal(t, 1, src.calls)
}

func TestPromptLoaderKeepsLastGoodOnError(t *testing.T) {
	src := &overridePrompts{overrides: map[string]string{"greeting": "Custom greeting"}}
	l := NewPromptLoader(src, time.Millisecond, logger.NewNop())

	p := l.Load(context.Background())
	assert.Equal(t, "Custom greeting", p.Greeting)

	src.err = errors.New("store down")
	time.Sleep(5 * time.Millisecond)

	p = l.Load(context.Background())
	assert.Equal(t, "Custom greeting", p.Greeting)
}
