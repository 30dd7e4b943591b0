package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

const sttPath = "stt"

type STTAPI struct {
	client *Client
}

func NewSTTAPI(client *Client) (*STTAPI, error) {
	if client == nil {
		return nil, fmt.Errorf("client is nil")
	}

	return &STTAPI{client: client}, nil
}

// Recognize uploads encoded audio and returns the decoded recognition result.
func (s *STTAPI) Recognize(ctx context.Context, audio []byte, contentType, lang string, limit int) (any, error) {
	return s.client.Request(ctx, &Request{
		Method: http.MethodPost,
		Path:   sttPath,
		Headers: map[string]string{
			headerContentType: contentType,
		},
		Query: url.Values{
			"lang":  []string{lang},
			"limit": []string{strconv.Itoa(limit)},
		},
		Data: audio,
	})
}
