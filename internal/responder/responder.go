// Package responder answers questions about a channel's ingested transcripts
// by retrieving the closest chunks and grounding a completion on them.
package responder

import (
	"context"
	"fmt"
	"strings"

	"github.com/tubewise/tubewise/config"
	"github.com/tubewise/tubewise/internal/store"
)

const (
	previewLength    = 200
	studyGuideTopK   = 10
	summarySampleCap = 20
)

// noContextInstruction replaces the transcript context when retrieval finds
// nothing, so the model explains the gap instead of fabricating an answer.
const noContextInstruction = "No context available: this channel has no ingested transcript content relevant to the question. Tell the user that, and do not invent video content."

// Retriever is the slice of the store the responder reads from.
type Retriever interface {
	SearchChunks(ctx context.Context, vector []float32, filter store.SearchFilter, topK int) ([]store.SearchResult, error)
	SampleChunks(ctx context.Context, channelID int64, limit int) ([]store.ChunkSample, error)
}

// LLM embeds queries and generates grounded completions.
type LLM interface {
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Source is one provenance entry of a grounded answer.
type Source struct {
	VideoTitle     string  `json:"video_title"`
	VideoURL       string  `json:"video_url"`
	TimestampStart float64 `json:"timestamp_start"`
	TimestampEnd   float64 `json:"timestamp_end"`
	ContentPreview string  `json:"content_preview"`
	Similarity     float64 `json:"similarity"`
}

// ChatResponse is a grounded answer plus the deduplicated sources it drew on.
type ChatResponse struct {
	Response string   `json:"response"`
	Sources  []Source `json:"sources"`
}

type Responder struct {
	retriever Retriever
	llm       LLM
	topK      int
}

func New(cfg config.ChatConfig, retriever Retriever, llm LLM) *Responder {
	topK := cfg.TopK
	if topK <= 0 {
		topK = 5
	}
	return &Responder{retriever: retriever, llm: llm, topK: topK}
}

// Search embeds the query and returns the closest chunks in the channel.
// videoID of 0 searches the whole channel.
func (r *Responder) Search(ctx context.Context, channelID, videoID int64, query string, topK int) ([]store.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query must not be empty")
	}
	if topK <= 0 {
		topK = r.topK
	}
	vecs, err := r.llm.CreateEmbedding(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	results, err := r.retriever.SearchChunks(ctx, vecs[0], store.SearchFilter{ChannelID: channelID, VideoID: videoID}, topK)
	if err != nil {
		return nil, err
	}
	return results, nil
}

// Chat answers a question grounded on the channel's transcripts. When
// retrieval comes back empty the model is still called, with an explicit
// no-context instruction in place of transcript text, and sources are empty.
func (r *Responder) Chat(ctx context.Context, channelID int64, message string) (ChatResponse, error) {
	hits, err := r.Search(ctx, channelID, 0, message, r.topK)
	if err != nil {
		return ChatResponse{}, err
	}

	var contextText strings.Builder
	if len(hits) == 0 {
		contextText.WriteString(noContextInstruction)
		contextText.WriteByte('\n')
	}
	for _, hit := range hits {
		contextText.WriteString(hit.Text)
		contextText.WriteByte('\n')
	}

	systemPrompt := fmt.Sprintf(`You are an AI assistant helping users understand and learn from YouTube videos.
Use the following transcript content as context to answer the user's question:

CONTEXT:
%s

Instructions:
- Answer based on the provided context
- If the context doesn't contain relevant information, say so
- Be helpful and educational
- Reference specific video content when possible
- Provide timestamps when available`, contextText.String())

	answer, err := r.llm.Complete(ctx, systemPrompt, message)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("chat completion: %w", err)
	}
	return ChatResponse{Response: answer, Sources: dedupeSources(hits)}, nil
}

// StudyGuide builds a structured study guide for a topic from the channel's
// transcripts.
func (r *Responder) StudyGuide(ctx context.Context, channelID int64, topic string) (string, error) {
	hits, err := r.Search(ctx, channelID, 0, topic, studyGuideTopK)
	if err != nil {
		return "", err
	}
	if len(hits) == 0 {
		return "No relevant content found for this topic.", nil
	}

	var contextText strings.Builder
	for _, hit := range hits {
		contextText.WriteString("- ")
		contextText.WriteString(hit.Text)
		contextText.WriteByte('\n')
	}

	prompt := fmt.Sprintf(`Create a comprehensive study guide for the topic "%s" based on the following video content:

CONTENT:
%s

Please create a structured study guide that includes:
1. Key concepts and definitions
2. Important points and takeaways
3. Examples or case studies mentioned
4. Questions for further reflection
5. Summary of main ideas

Make it educational and well-organized.`, topic, contextText.String())

	guide, err := r.llm.Complete(ctx, "", prompt)
	if err != nil {
		return "", fmt.Errorf("study guide completion: %w", err)
	}
	return guide, nil
}

// Summarize describes the channel's overall content from a sample of its
// stored chunks.
func (r *Responder) Summarize(ctx context.Context, channelID int64) (string, error) {
	samples, err := r.retriever.SampleChunks(ctx, channelID, summarySampleCap)
	if err != nil {
		return "", err
	}
	if len(samples) == 0 {
		return "No content available to summarize.", nil
	}

	var contentText strings.Builder
	for _, s := range samples {
		fmt.Fprintf(&contentText, "From '%s': %s\n", s.VideoTitle, s.Text)
	}

	prompt := fmt.Sprintf(`Analyze the following content from various videos and create a comprehensive summary:

CONTENT:
%s

Please provide:
1. Main themes and topics covered
2. Key insights and learnings
3. Overall content focus and style
4. Value proposition for learners

Keep it concise but informative.`, contentText.String())

	summary, err := r.llm.Complete(ctx, "", prompt)
	if err != nil {
		return "", fmt.Errorf("summary completion: %w", err)
	}
	return summary, nil
}

// dedupeSources collapses hits that point at the same video span, preserving
// retrieval order.
func dedupeSources(hits []store.SearchResult) []Source {
	seen := make(map[string]struct{}, len(hits))
	sources := make([]Source, 0, len(hits))
	for _, hit := range hits {
		key := fmt.Sprintf("%s|%v|%v", hit.VideoURL, hit.StartTime, hit.EndTime)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		sources = append(sources, Source{
			VideoTitle:     hit.VideoTitle,
			VideoURL:       hit.VideoURL,
			TimestampStart: hit.StartTime,
			TimestampEnd:   hit.EndTime,
			ContentPreview: preview(hit.Text),
			Similarity:     hit.Similarity,
		})
	}
	return sources
}

func preview(text string) string {
	if len(text) > previewLength {
		return text[:previewLength] + "..."
	}
	return text
}
