package provider

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type stubImageFallback struct {
	description string
	err         error
	calledWith  string
}

func (s *stubImageFallback) DescribeImage(ctx context.Context, model string, imageData []byte, mimeType string) (string, error) {
	s.calledWith = mimeType
	if s.err != nil {
		return "", s.err
	}
	return s.description, nil
}

func TestConvertImageToTextIfNeededSubstitutesDescription(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString([]byte("fake-png-bytes"))
	content := "here is a chart: ![image](data:image/png;base64," + payload + ") what do you see?"

	fallback := &stubImageFallback{description: "a bar chart trending upward"}
	got := convertImageToTextIfNeeded(context.Background(), content, "meta.llama3-1-70b-instruct-v1:0", fallback)

	require.Equal(t, "here is a chart: [Image: a bar chart trending upward] what do you see?", got)
	require.Equal(t, "image/png", fallback.calledWith)
}

func TestConvertImageToTextIfNeededNoFallbackPassesThrough(t *testing.T) {
	content := "![image](data:image/png;base64,abcd)"
	got := convertImageToTextIfNeeded(context.Background(), content, "m", nil)
	require.Equal(t, content, got)
}

func TestConvertImageToTextIfNeededNoImagePassesThrough(t *testing.T) {
	content := "just plain text, no images here"
	got := convertImageToTextIfNeeded(context.Background(), content, "m", &stubImageFallback{})
	require.Equal(t, content, got)
}

func TestConvertImageToTextIfNeededFallbackErrorKeepsOriginal(t *testing.T) {
	content := "![image](data:image/png;base64,abcd)"
	fallback := &stubImageFallback{err: errors.New("boom")}
	got := convertImageToTextIfNeeded(context.Background(), content, "m", fallback)
	require.Equal(t, content, got)
}

func TestDecodeDataURI(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString([]byte("hello"))
	mimeType, data, ok := decodeDataURI("data:image/jpeg;base64," + payload)
	require.True(t, ok)
	require.Equal(t, "image/jpeg", mimeType)
	require.Equal(t, []byte("hello"), data)
}

func TestDecodeDataURIInvalid(t *testing.T) {
	_, _, ok := decodeDataURI("not-a-data-uri")
	require.False(t, ok)
}
