package provider

import (
	"context"
	"encoding/base64"
	"regexp"
	"strings"
)

// imagePlaceholder matches an inline Markdown image embed whose URL is a
// data URI: `![image](data:image/png;base64,...)`. This is the shape
// conversation items carry an embedded image in, since wire.ConversationItem
// has no dedicated image field.
var imagePlaceholder = regexp.MustCompile(`!\[image\]\((data:image/[a-zA-Z0-9.+-]+;base64,[A-Za-z0-9+/=]+)\)`)

// convertImageToTextIfNeeded implements spec §4.1's "if the model does not
// accept images, convert an embedded image placeholder to a textual
// description via a convertImageToTextIfNeeded hook and substitute it
// inline." fallback is nil for a provider with no image-description
// capability, in which case content passes through unchanged (the image
// placeholder reaches the model as-is, which the caller should avoid by not
// invoking this hook for vision-capable models in the first place).
func convertImageToTextIfNeeded(ctx context.Context, content, model string, fallback ImageFallback) string {
	if fallback == nil || !strings.Contains(content, "![image](data:image/") {
		return content
	}
	return imagePlaceholder.ReplaceAllStringFunc(content, func(match string) string {
		sub := imagePlaceholder.FindStringSubmatch(match)
		if len(sub) != 2 {
			return match
		}
		mimeType, data, ok := decodeDataURI(sub[1])
		if !ok {
			return match
		}
		desc, err := fallback.DescribeImage(ctx, model, data, mimeType)
		if err != nil {
			return match
		}
		return "[Image: " + desc + "]"
	})
}

// decodeDataURI splits a `data:<mime>;base64,<payload>` URI into its MIME
// type and decoded bytes.
func decodeDataURI(uri string) (mimeType string, data []byte, ok bool) {
	const prefix = "data:"
	if !strings.HasPrefix(uri, prefix) {
		return "", nil, false
	}
	rest := uri[len(prefix):]
	comma := strings.IndexByte(rest, ',')
	if comma == -1 {
		return "", nil, false
	}
	meta, payload := rest[:comma], rest[comma+1:]
	meta = strings.TrimSuffix(meta, ";base64")
	decoded, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, false
	}
	return meta, decoded, true
}
