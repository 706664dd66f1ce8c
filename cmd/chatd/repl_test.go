package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stupiduntilnot/windowchat/internal/session"
)

func TestRunREPL(t *testing.T) {
	a := testApp(t, testConfig(t, "msg:r1,err:down,msg:r2,msg:r3"))

	in := strings.NewReader("first\n\nsecond\nthird\n/reset\nfourth\n/quit\nignored\n")
	var out bytes.Buffer
	require.NoError(t, runREPL(context.Background(), in, &out, a.registry))

	text := out.String()
	assert.Equal(t, 2, strings.Count(text, session.Greeting))
	assert.Contains(t, text, "r1\n")
	assert.Contains(t, text, "Error: completion failed: ")
	assert.Contains(t, text, "r2\n")
	assert.Contains(t, text, "r3\n")
	assert.NotContains(t, text, "ignored")

	ids := a.registry.IDs()
	require.Len(t, ids, 1)
	s, err := a.registry.Get(ids[0])
	require.NoError(t, err)
	exchanges := s.Exchanges()
	require.Len(t, exchanges, 1)
	assert.Equal(t, "fourth", exchanges[0].Input())
}

func TestRunREPL_TemplateError(t *testing.T) {
	cfg := testConfig(t, "ok")
	cfg.Template = "{input}"
	a := testApp(t, cfg)

	var out bytes.Buffer
	err := runREPL(context.Background(), strings.NewReader("hi\n"), &out, a.registry)
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(out.String(), "Error loading model: "), out.String())
	assert.Zero(t, a.registry.Len())
}
