package ai

import (
	"context"
	"io"
	"iter"
	"strings"

	"google.golang.org/genai"

	"github.com/xxxsen/tuneforge/internal/model"
)

type geminiConfig struct {
	APIKey string `json:"api_key"`
}

type geminiProvider struct {
	apiKey string
}

func (p *geminiProvider) Name() string {
	return "gemini"
}

func (p *geminiProvider) StreamChat(ctx context.Context, modelName string, messages []model.Message) (ChunkStream, error) {
	if p.apiKey == "" {
		return nil, ErrUnavailable
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  p.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}
	contents, config := toGeminiContents(messages)
	seq := client.Models.GenerateContentStream(ctx, modelName, contents, config)
	next, stop := iter.Pull2(seq)
	return &geminiStream{next: next, stop: stop}, nil
}

func toGeminiContents(messages []model.Message) ([]*genai.Content, *genai.GenerateContentConfig) {
	var config *genai.GenerateContentConfig
	contents := make([]*genai.Content, 0, len(messages))
	for _, msg := range messages {
		part := &genai.Part{Text: msg.Content}
		switch msg.Role {
		case model.RoleSystem:
			if config == nil {
				config = &genai.GenerateContentConfig{SystemInstruction: &genai.Content{}}
			}
			config.SystemInstruction.Parts = append(config.SystemInstruction.Parts, part)
		case model.RoleAssistant:
			contents = append(contents, &genai.Content{Role: "model", Parts: []*genai.Part{part}})
		default:
			contents = append(contents, &genai.Content{Role: "user", Parts: []*genai.Part{part}})
		}
	}
	return contents, config
}

type geminiStream struct {
	next func() (*genai.GenerateContentResponse, error, bool)
	stop func()
}

func (s *geminiStream) Recv() (string, error) {
	for {
		resp, err, ok := s.next()
		if !ok {
			return "", io.EOF
		}
		if err != nil {
			return "", err
		}
		if resp == nil {
			continue
		}
		if text := resp.Text(); text != "" {
			return text, nil
		}
	}
}

func (s *geminiStream) Close() error {
	s.stop()
	return nil
}

func createGeminiFactory(args interface{}) (IStreamProvider, error) {
	cfg := &geminiConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	return &geminiProvider{apiKey: strings.TrimSpace(cfg.APIKey)}, nil
}

func init() {
	Register("gemini", createGeminiFactory)
}
