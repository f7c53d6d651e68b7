package tokens

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/tiktoken-go/tokenizer"

	"github.com/chronicle-run/chronicle/internal/domain"
)

// OpenAICounter gives exact prompt token counts for OpenAI models via
// tiktoken, following the per-message/per-role overhead OpenAI documents
// for its chat format.
type OpenAICounter struct {
	matcher    *ModelMatcher
	codecCache map[tokenizer.Encoding]tokenizer.Codec
	cacheMu    sync.RWMutex
}

// NewOpenAICounter builds an OpenAICounter covering the gpt-*/o*/legacy
// completion model families.
func NewOpenAICounter() *OpenAICounter {
	return &OpenAICounter{
		matcher: NewModelMatcher(
			[]string{"gpt-", "o1", "o2", "o3", "o4", "o5", "o6", "text-embedding", "text-davinci"},
			[]string{"davinci", "curie", "babbage", "ada"},
		),
		codecCache: make(map[tokenizer.Encoding]tokenizer.Codec),
	}
}

func (c *OpenAICounter) getCodec(model string) (tokenizer.Codec, error) {
	if codec, err := tokenizer.ForModel(mapModelName(model)); err == nil {
		return codec, nil
	}

	encoding := modelToEncoding(model)

	c.cacheMu.RLock()
	if cached, ok := c.codecCache[encoding]; ok {
		c.cacheMu.RUnlock()
		return cached, nil
	}
	c.cacheMu.RUnlock()

	codec, err := tokenizer.Get(encoding)
	if err != nil {
		return nil, fmt.Errorf("get tokenizer encoding: %w", err)
	}

	c.cacheMu.Lock()
	c.codecCache[encoding] = codec
	c.cacheMu.Unlock()
	return codec, nil
}

// mapModelName maps a model string to tokenizer.Model for the families
// tiktoken-go knows by name.
func mapModelName(model string) tokenizer.Model {
	model = strings.ToLower(model)

	switch {
	case model == "gpt-5":
		return tokenizer.GPT5
	case model == "gpt-5-mini" || strings.HasPrefix(model, "gpt-5-mini-"):
		return tokenizer.GPT5Mini
	case model == "gpt-5-nano" || strings.HasPrefix(model, "gpt-5-nano-"):
		return tokenizer.GPT5Nano
	case strings.HasPrefix(model, "gpt-5"):
		return tokenizer.GPT5
	case strings.HasPrefix(model, "gpt-4.1"), strings.HasPrefix(model, "gpt-41"):
		return tokenizer.GPT41
	case strings.HasPrefix(model, "gpt-4o"):
		return tokenizer.GPT4o
	case model == "o1" || model == "o1-preview" || strings.HasPrefix(model, "o1-"):
		switch {
		case strings.Contains(model, "mini"):
			return tokenizer.O1Mini
		case strings.Contains(model, "preview"):
			return tokenizer.O1Preview
		default:
			return tokenizer.O1
		}
	case model == "o3" || strings.HasPrefix(model, "o3-"):
		if strings.Contains(model, "mini") {
			return tokenizer.O3Mini
		}
		return tokenizer.O3
	case model == "o4-mini" || strings.HasPrefix(model, "o4-mini"):
		return tokenizer.O4Mini
	case strings.HasPrefix(model, "o4"), strings.HasPrefix(model, "o5"), strings.HasPrefix(model, "o6"):
		return tokenizer.O4Mini
	case strings.HasPrefix(model, "gpt-4"):
		return tokenizer.GPT4
	case strings.HasPrefix(model, "gpt-3.5"):
		return tokenizer.GPT35Turbo
	case strings.HasPrefix(model, "gpt-6"), strings.HasPrefix(model, "gpt-7"):
		return tokenizer.GPT5
	case strings.HasPrefix(model, "text-embedding"):
		return tokenizer.TextEmbeddingAda002
	case strings.HasPrefix(model, "text-davinci-003"):
		return tokenizer.TextDavinci003
	case strings.HasPrefix(model, "text-davinci-002"):
		return tokenizer.TextDavinci002
	case strings.HasPrefix(model, "text-davinci"):
		return tokenizer.TextDavinci001
	case model == "davinci":
		return tokenizer.Davinci
	case model == "curie":
		return tokenizer.Curie
	case model == "babbage":
		return tokenizer.Babbage
	case model == "ada":
		return tokenizer.Ada
	default:
		return tokenizer.Model(model)
	}
}

// modelToEncoding is the encoding fallback for models ForModel doesn't
// recognize by exact name.
func modelToEncoding(model string) tokenizer.Encoding {
	model = strings.ToLower(model)

	switch {
	case strings.HasPrefix(model, "gpt-5"),
		strings.HasPrefix(model, "gpt-4.1"), strings.HasPrefix(model, "gpt-41"),
		strings.HasPrefix(model, "gpt-4o"),
		strings.HasPrefix(model, "o1"), strings.HasPrefix(model, "o3"), strings.HasPrefix(model, "o4"):
		return tokenizer.O200kBase
	case strings.HasPrefix(model, "gpt-4"), strings.HasPrefix(model, "gpt-3.5"), strings.HasPrefix(model, "text-embedding"):
		return tokenizer.Cl100kBase
	case strings.HasPrefix(model, "text-davinci"):
		return tokenizer.P50kBase
	case model == "davinci" || model == "curie" || model == "babbage" || model == "ada":
		return tokenizer.R50kBase
	default:
		return tokenizer.O200kBase
	}
}

// CountTokens counts req's prompt tokens exactly, per OpenAI's
// documented per-message (3 tokens) / per-role (1 token) overhead plus a
// 3-token assistant priming tail.
func (c *OpenAICounter) CountTokens(ctx context.Context, req *Request) (*Result, error) {
	codec, err := c.getCodec(req.Model)
	if err != nil {
		return nil, err
	}

	const tokensPerMessage = 3
	const tokensPerRole = 1
	total := 0

	if req.System != "" {
		total += tokensPerMessage + tokensPerRole
		ids, _, _ := codec.Encode(req.System)
		total += len(ids)
	}

	for _, msg := range req.Messages {
		total += tokensPerMessage + tokensPerRole

		if len(msg.Parts) > 0 {
			for _, part := range msg.Parts {
				if part.Type != domain.ContentTypeText {
					continue
				}
				ids, _, _ := codec.Encode(part.Text)
				total += len(ids)
			}
		} else {
			ids, _, _ := codec.Encode(msg.Content)
			total += len(ids)
		}

		for _, tc := range msg.ToolCalls {
			ids, _, _ := codec.Encode(tc.Function.Name)
			total += len(ids)
			ids, _, _ = codec.Encode(tc.Function.Arguments)
			total += len(ids)
			total += 3
		}
	}

	for _, tool := range req.Tools {
		ids, _, _ := codec.Encode(tool.Function.Name)
		total += len(ids)
		ids, _, _ = codec.Encode(tool.Function.Description)
		total += len(ids)
		if tool.Function.Parameters != nil {
			paramBytes, _ := json.Marshal(tool.Function.Parameters)
			ids, _, _ := codec.Encode(string(paramBytes))
			total += len(ids)
		}
		total += 7
	}

	total += 3 // assistant priming

	return &Result{InputTokens: total, Model: req.Model, Estimated: false}, nil
}

// SupportsModel reports whether model belongs to a family this counter
// tokenizes.
func (c *OpenAICounter) SupportsModel(model string) bool {
	return c.matcher.Matches(model)
}

// CountText counts a plain string under model's tokenizer, for callers
// that just need to size a chunk of text rather than a full request.
func (c *OpenAICounter) CountText(model, text string) (int, error) {
	codec, err := c.getCodec(model)
	if err != nil {
		return 0, err
	}
	ids, _, err := codec.Encode(text)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}
