package message

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"
)

const assetScheme = "asset://"

// assetRefPattern matches an embedded asset reference such as "asset://sprites/hero.png".
var assetRefPattern = regexp.MustCompile(`asset://[A-Za-z0-9._~\-/]+`)

// AssetRewriter rewrites embedded asset:// references into absolute URLs under BaseURL.
type AssetRewriter struct {
	BaseURL string
}

// NewAssetRewriter creates an AssetRewriter. A trailing slash on baseURL is ignored.
func NewAssetRewriter(baseURL string) *AssetRewriter {
	return &AssetRewriter{BaseURL: strings.TrimRight(baseURL, "/")}
}

// Transform rewrites asset references found in the string values of payload.
// Object keys are left alone. Payloads that are not valid JSON, or that hold
// no references, are returned unchanged.
func (a *AssetRewriter) Transform(payload json.RawMessage) json.RawMessage {
	if !json.Valid(payload) {
		return payload
	}

	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return payload
	}

	doc, changed := a.rewrite(doc)
	if !changed {
		return payload
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(doc); err != nil {
		return payload
	}
	return bytes.TrimRight(buf.Bytes(), "\n")
}

func (a *AssetRewriter) rewrite(v any) (any, bool) {
	switch v := v.(type) {
	case string:
		if !strings.Contains(v, assetScheme) {
			return v, false
		}
		// The replacement is literal; BaseURL is never expanded as a template.
		out := assetRefPattern.ReplaceAllStringFunc(v, func(ref string) string {
			return a.BaseURL + "/" + strings.TrimPrefix(ref, assetScheme)
		})
		return out, out != v
	case map[string]any:
		changed := false
		for key, child := range v {
			if next, ok := a.rewrite(child); ok {
				v[key] = next
				changed = true
			}
		}
		return v, changed
	case []any:
		changed := false
		for i, child := range v {
			if next, ok := a.rewrite(child); ok {
				v[i] = next
				changed = true
			}
		}
		return v, changed
	default:
		return v, false
	}
}

// TransformerFor returns the transform to apply for the given asset base URL.
// An empty base URL yields Identity.
func TransformerFor(baseURL string) Transformer {
	if baseURL == "" {
		return Identity
	}
	return NewAssetRewriter(baseURL).Transform
}
