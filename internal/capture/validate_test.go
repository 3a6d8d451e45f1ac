package capture

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/contextvault/vault/internal/entry"
	"github.com/contextvault/vault/internal/vaulterr"
)

func TestValidate_OversizeInputsRejected(t *testing.T) {
	cases := map[string]Input{
		"kind too long":     {Kind: strings.Repeat("k", entry.MaxKindChars+1), Body: "b"},
		"empty body":        {Kind: "note", Body: "   "},
		"body too large":    {Kind: "note", Body: strings.Repeat("x", entry.MaxBodyBytes+1)},
		"title too long":    {Kind: "note", Body: "b", Title: strings.Repeat("t", entry.MaxTitleChars+1)},
		"source too long":   {Kind: "note", Body: "b", Source: strings.Repeat("s", entry.MaxSourceChars+1)},
		"too many tags":     {Kind: "note", Body: "b", Tags: make([]string, entry.MaxTagCount+1)},
		"tag text too long": {Kind: "note", Body: "b", Tags: []string{strings.Repeat("g", entry.MaxTagChars+1)}},
	}

	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			err := validate(in)
			assert.Equal(t, vaulterr.InvalidInput, vaulterr.KindOf(err), "case %q", name)
		})
	}
}

func TestValidate_AcceptsWellFormedInput(t *testing.T) {
	err := validate(Input{Kind: "note", Body: "a valid body", Title: "fine", Tags: []string{"ok"}})
	assert.NoError(t, err)
}
